// Package ledger moves transfer money between two teams' budgets.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/halftime/fantasy-market/internal/model"
)

// Settle debits buyer and credits seller by amount. The caller has already
// checked buyer.Budget >= amount and amount > 0.
func Settle(buyer, seller *model.Team, amount decimal.Decimal) {
	buyer.Budget = buyer.Budget.Sub(amount)
	seller.Budget = seller.Budget.Add(amount)
}

// CanAfford reports whether budget covers amount. Equality is enough.
func CanAfford(budget, amount decimal.Decimal) bool {
	return budget.GreaterThanOrEqual(amount)
}
