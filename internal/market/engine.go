// Package market implements the transfer market: listing a player for sale,
// buying a listed player, and reading the active listing feed.
//
// A purchase touches four records (buyer team, seller team, player and the
// listing) and commits them as one unit of work through store.Store.RunInTx.
// All monetary values use shopspring/decimal.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halftime/fantasy-market/internal/ledger"
	"github.com/halftime/fantasy-market/internal/metrics"
	"github.com/halftime/fantasy-market/internal/model"
	"github.com/halftime/fantasy-market/internal/ownership"
	"github.com/halftime/fantasy-market/internal/store"
)

// Event types published after a successful commit.
const (
	EventPlayerListed      = "player_listed"
	EventPlayerTransferred = "player_transferred"
)

// Event describes a committed market change.
type Event struct {
	Type         string
	Listing      model.Listing
	Player       model.Player
	SellerTeamID string
	BuyerTeamID  string
}

// Publisher receives committed market events. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// Engine orchestrates List and Buy. It is safe for concurrent use; it holds
// no locks of its own and relies on the store for atomicity and uniqueness.
type Engine struct {
	store     store.Store
	valuation ownership.Bumper
	events    Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a market engine backed by st. bumper computes the
// post-sale uplift, normally a *valuation.Policy.
func NewEngine(st store.Store, bumper ownership.Bumper, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		valuation: bumper,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// List puts the requester's player up for sale at value.
func (e *Engine) List(ctx context.Context, teamID, playerID string, value decimal.Decimal) (*model.Listing, error) {
	start := time.Now()
	defer func() { metrics.OperationLatency.WithLabelValues("list").Observe(time.Since(start).Seconds()) }()

	if !value.IsPositive() {
		return nil, e.reject("list", ErrInvalidAskValue, zap.String("player_id", playerID))
	}

	var listing *model.Listing
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		player, err := tx.GetPlayer(ctx, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotOwner
		}
		if err != nil {
			return err
		}
		if player.TeamID != teamID {
			return ErrNotOwner
		}

		l := &model.Listing{
			ID:        uuid.New().String(),
			PlayerID:  playerID,
			Value:     value,
			CreatedAt: e.now().UTC(),
		}
		// The store's uniqueness constraint is the authority on "already
		// listed"; no separate read precedes the insert.
		if err := tx.CreateListing(ctx, l); err != nil {
			if errors.Is(err, store.ErrDuplicateListing) {
				return ErrAlreadyListed
			}
			return err
		}
		l.Player = player
		listing = l
		return nil
	})
	if err != nil {
		return nil, e.fail("list", err, zap.String("team_id", teamID), zap.String("player_id", playerID))
	}

	metrics.ListingsCreated.Inc()
	e.logger.Info("player listed",
		zap.String("listing_id", listing.ID),
		zap.String("team_id", teamID),
		zap.String("player_id", playerID),
		zap.String("value", value.String()),
	)
	e.publish(Event{Type: EventPlayerListed, Listing: *listing, Player: *listing.Player, SellerTeamID: teamID})
	return listing, nil
}

// Buy purchases a listed player for the requester's team at the listing's
// asking value. On success the budgets are settled, the player moves to the
// buyer with a bumped market value, and the listing is gone, all in one
// commit. Returns the updated player.
func (e *Engine) Buy(ctx context.Context, teamID, playerID string) (*model.Player, error) {
	start := time.Now()
	defer func() { metrics.OperationLatency.WithLabelValues("buy").Observe(time.Since(start).Seconds()) }()

	var (
		player   *model.Player
		listing  *model.Listing
		sellerID string
	)
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		listing, err = tx.FindListingByPlayer(ctx, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotListed
		}
		if err != nil {
			return err
		}

		// Lock order matches List: player row first, then the listing.
		player, err = tx.GetPlayer(ctx, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotListed
		}
		if err != nil {
			return err
		}
		// The conditional delete claims the listing. A buyer that lost the
		// race for the player lock finds nothing to remove; any later
		// refusal rolls the delete back.
		if err := tx.RemoveListing(ctx, listing.ID); err != nil {
			if errors.Is(err, store.ErrListingGone) {
				return ErrNotListed
			}
			return err
		}
		if player.TeamID == teamID {
			return ErrSelfPurchase
		}
		sellerID = player.TeamID

		buyer, seller, err := tx.LockTeams(ctx, teamID, sellerID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTeamNotFound
		}
		if err != nil {
			return err
		}
		if !ledger.CanAfford(buyer.Budget, listing.Value) {
			return ErrInsufficientBudget
		}

		ledger.Settle(buyer, seller, listing.Value)
		if err := ownership.Move(player, buyer, seller, e.valuation); err != nil {
			return err
		}

		if err := tx.SaveTeam(ctx, buyer); err != nil {
			return err
		}
		if err := tx.SaveTeam(ctx, seller); err != nil {
			return err
		}
		return tx.SavePlayer(ctx, player)
	})
	if err != nil {
		return nil, e.fail("buy", err, zap.String("team_id", teamID), zap.String("player_id", playerID))
	}

	metrics.TransfersCompleted.Inc()
	metrics.TransferVolume.Add(listing.Value.InexactFloat64())
	e.logger.Info("player transferred",
		zap.String("listing_id", listing.ID),
		zap.String("player_id", playerID),
		zap.String("seller_team_id", sellerID),
		zap.String("buyer_team_id", teamID),
		zap.String("fee", listing.Value.String()),
		zap.String("new_market_value", player.MarketValue.String()),
	)
	e.publish(Event{
		Type:         EventPlayerTransferred,
		Listing:      *listing,
		Player:       *player,
		SellerTeamID: sellerID,
		BuyerTeamID:  teamID,
	})
	return player, nil
}

// ListActiveListings returns every active listing with a player snapshot.
// It may lag concurrent writes.
func (e *Engine) ListActiveListings(ctx context.Context) ([]model.Listing, error) {
	listings, err := e.store.ListListings(ctx)
	if err != nil {
		return nil, e.fail("list_active", err)
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	metrics.ActiveListings.Set(float64(len(listings)))
	return listings, nil
}

// fail classifies err: domain conflicts are returned as-is, everything else
// becomes a *StorageError.
func (e *Engine) fail(op string, err error, fields ...zap.Field) error {
	if IsConflict(err) {
		return e.reject(op, err, fields...)
	}
	metrics.MarketRejections.WithLabelValues(op, "storage").Inc()
	e.logger.Error("market operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return &StorageError{Op: op, Err: err}
}

func (e *Engine) reject(op string, err error, fields ...zap.Field) error {
	metrics.MarketRejections.WithLabelValues(op, reason(err)).Inc()
	e.logger.Debug("market operation rejected", append(fields, zap.String("op", op), zap.Error(err))...)
	return err
}

func (e *Engine) publish(ev Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}
