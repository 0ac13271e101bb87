// Package ownership reassigns a player from the selling team to the buying
// team and keeps both teams' aggregate market values in step.
package ownership

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/halftime/fantasy-market/internal/model"
)

// Bumper computes a player's value after a purchase.
type Bumper interface {
	BumpValue(current decimal.Decimal) decimal.Decimal
}

// Move transfers player from seller to buyer.
//
// The seller loses the pre-bump value and the buyer gains the post-bump
// value; the uplift is credited to the buyer's valuation only.
func Move(player *model.Player, buyer, seller *model.Team, bumper Bumper) error {
	if player.TeamID != seller.ID {
		return fmt.Errorf("ownership: player %s belongs to team %s, not seller %s", player.ID, player.TeamID, seller.ID)
	}
	if buyer.ID == seller.ID {
		return fmt.Errorf("ownership: buyer and seller are the same team %s", buyer.ID)
	}

	seller.MarketValue = seller.MarketValue.Sub(player.MarketValue)
	player.MarketValue = bumper.BumpValue(player.MarketValue)
	buyer.MarketValue = buyer.MarketValue.Add(player.MarketValue)

	player.TeamID = buyer.ID
	seller.RemovePlayer(player.ID)
	buyer.RemovePlayer(player.ID)
	buyer.Players = append(buyer.Players, *player)
	return nil
}
