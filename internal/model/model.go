// Package model defines the core domain types shared across the roster
// manager. All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a player's role on the pitch.
type Position string

const (
	Goalkeeper Position = "Goalkeeper"
	Defender   Position = "Defender"
	Midfielder Position = "Midfielder"
	Attacker   Position = "Attacker"
)

// Valid reports whether p is one of the four known positions.
func (p Position) Valid() bool {
	switch p {
	case Goalkeeper, Defender, Midfielder, Attacker:
		return true
	}
	return false
}

// Player is owned by exactly one Team at any time.
type Player struct {
	ID          string          `json:"id" db:"id"`
	TeamID      string          `json:"team_id" db:"team_id"`
	FirstName   string          `json:"first_name" db:"first_name"`
	LastName    string          `json:"last_name" db:"last_name"`
	Country     string          `json:"country" db:"country"`
	Position    Position        `json:"position" db:"position"`
	Age         int             `json:"age" db:"age"`
	MarketValue decimal.Decimal `json:"market_value" db:"market_value"` // non-negative
}

// Team holds a spendable budget and an aggregate market value that always
// equals the sum of its players' market values.
type Team struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Country     string          `json:"country" db:"country"`
	Budget      decimal.Decimal `json:"budget" db:"budget"`
	MarketValue decimal.Decimal `json:"market_value" db:"market_value"`
	Players     []Player        `json:"players"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// PlayersValue sums the market values of the loaded players.
func (t *Team) PlayersValue() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range t.Players {
		sum = sum.Add(p.MarketValue)
	}
	return sum
}

// RemovePlayer drops the player with the given id from the collection and
// reports whether it was present.
func (t *Team) RemovePlayer(playerID string) bool {
	for i := range t.Players {
		if t.Players[i].ID == playerID {
			t.Players = append(t.Players[:i], t.Players[i+1:]...)
			return true
		}
	}
	return false
}

// HasPlayer reports whether the player is in the team's collection.
func (t *Team) HasPlayer(playerID string) bool {
	for i := range t.Players {
		if t.Players[i].ID == playerID {
			return true
		}
	}
	return false
}

// Listing is an active for-sale record. At most one exists per player.
type Listing struct {
	ID        string          `json:"id" db:"id"`
	PlayerID  string          `json:"player_id" db:"player_id"`
	Value     decimal.Decimal `json:"value" db:"value"` // asking value, > 0
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	Player    *Player         `json:"player,omitempty"`
}
