package types

import "github.com/google/uuid"

// Account is an exchange participant. It is mutated only by the Exchange,
// under the lock of whichever instrument the mutating operation concerns.
// Cash is shared across instruments, so two simultaneous bids on different
// instruments can race on the same account's Cash field — this is an
// accepted property of the single-lock-per-instrument design, not a bug;
// see DESIGN.md.
type Account struct {
	ID          uuid.UUID
	DisplayName string
	Cash        float64
	// Inventory maps instrument symbol to free (non-escrowed) quantity.
	Inventory map[string]uint64
	// IsLiquidityProvider accounts are exempt from escrow debits and
	// settlement credits, keeping them ledger-neutral for bootstrapping
	// synthetic liquidity.
	IsLiquidityProvider bool
}

// NewAccount creates an account with an empty inventory map.
func NewAccount(id uuid.UUID, displayName string, cash float64, liquidityProvider bool) *Account {
	return &Account{
		ID:                  id,
		DisplayName:         displayName,
		Cash:                cash,
		Inventory:           make(map[string]uint64),
		IsLiquidityProvider: liquidityProvider,
	}
}
