// Command exchanged runs the matching and settlement core as a standalone
// fx.App, for local development and integration testing. A real deployment
// embeds internal/app.Module behind its own transport rather than using
// this binary directly.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/nodalmarket/xchange/internal/app"
	"github.com/nodalmarket/xchange/internal/exchange"
)

const (
	appName    = "xchange core"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "help" || os.Args[1] == "--help" || os.Args[1] == "-h") {
		printUsage()
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "version" {
		log.Printf("%s v%s", appName, appVersion)
		return
	}

	log.Printf("starting %s v%s", appName, appVersion)

	fxApp := fx.New(
		app.Module,
		fx.Invoke(func(ex *exchange.Exchange) {
			log.Printf("exchange core ready, instruments: %v", ex.Instruments())
		}),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		log.Fatalf("failed to start exchange core: %v", err)
	}

	<-fxApp.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		log.Fatalf("failed to stop exchange core cleanly: %v", err)
	}
}

func printUsage() {
	log.Printf("%s v%s\n", appName, appVersion)
	log.Println("Usage: exchanged [help|version]")
	log.Println("Runs the matching and settlement core in the foreground until signaled to stop.")
}
