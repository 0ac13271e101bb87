// Package store defines the persistence interface for the roster manager.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/halftime/fantasy-market/internal/model"
)

var (
	// ErrNotFound is returned when a team, player or listing does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateListing is returned when a second listing is inserted for
	// the same player. It is raised by the store's uniqueness constraint.
	ErrDuplicateListing = errors.New("store: player already has an active listing")

	// ErrListingGone is returned when a conditional listing removal finds
	// nothing to remove because another transaction got there first.
	ErrListingGone = errors.New("store: listing no longer exists")
)

// Store is the persistence interface. Every mutation made by the market
// engine goes through RunInTx; the remaining writes belong to the roster
// administration paths.
type Store interface {
	// --- Unit of work ---

	// RunInTx runs fn against a fresh transaction. The transaction commits
	// when fn returns nil and rolls back on every other exit path.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Reads ---

	// GetTeam returns a team with its players loaded.
	GetTeam(ctx context.Context, id string) (*model.Team, error)

	// GetPlayer returns a single player.
	GetPlayer(ctx context.Context, id string) (*model.Player, error)

	// ListListings returns all active listings with an embedded player snapshot.
	ListListings(ctx context.Context) ([]model.Listing, error)

	// IsListed reports whether the player has an active listing.
	IsListed(ctx context.Context, playerID string) (bool, error)

	// --- Roster administration ---

	// CreateTeam persists a new team and all of its players.
	CreateTeam(ctx context.Context, team *model.Team) error

	// UpdateTeamProfile changes a team's name and country.
	UpdateTeamProfile(ctx context.Context, id, name, country string) error

	// UpdatePlayerProfile changes a player's names and country.
	UpdatePlayerProfile(ctx context.Context, id, firstName, lastName, country string) error

	// DeleteTeam removes the team's active listings, then its players, then
	// the team itself, in one transaction.
	DeleteTeam(ctx context.Context, id string) error
}

// Tx is a single unit of work scoped to one List or Buy call. Reads through
// a Tx observe the transaction's own writes.
type Tx interface {
	// GetTeam returns a team with its players loaded.
	GetTeam(ctx context.Context, id string) (*model.Team, error)

	// GetPlayer returns a player, locking it for the rest of the transaction
	// where the backend supports row locks.
	GetPlayer(ctx context.Context, id string) (*model.Player, error)

	// LockTeams loads and locks two teams in a deterministic order so that
	// concurrent transfers between the same pair cannot deadlock.
	LockTeams(ctx context.Context, a, b string) (*model.Team, *model.Team, error)

	// --- Listings ---

	// IsListed reports whether the player has an active listing.
	IsListed(ctx context.Context, playerID string) (bool, error)

	// CreateListing inserts a listing. Returns ErrDuplicateListing when the
	// player is already listed.
	CreateListing(ctx context.Context, l *model.Listing) error

	// FindListingByPlayer returns the player's active listing or ErrNotFound.
	FindListingByPlayer(ctx context.Context, playerID string) (*model.Listing, error)

	// RemoveListing deletes the listing if it still exists, otherwise
	// returns ErrListingGone.
	RemoveListing(ctx context.Context, id string) error

	// --- Writes ---

	// SaveTeam persists a team's budget and market value.
	SaveTeam(ctx context.Context, team *model.Team) error

	// SavePlayer persists a player's owning team and market value.
	SavePlayer(ctx context.Context, player *model.Player) error
}

// checkPositions rejects a roster carrying a position outside the four
// known ones before any row is written.
func checkPositions(team *model.Team) error {
	for _, p := range team.Players {
		if !p.Position.Valid() {
			return fmt.Errorf("player %s: unknown position %q", p.ID, p.Position)
		}
	}
	return nil
}
