package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halftime/fantasy-market/internal/model"
)

const listingsKey = "market:listings"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the listing feed and team snapshots. Writes go to the primary
// store and invalidate the affected keys; reads check Redis first then fall
// back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	rec := &recordingTx{}
	err := s.primary.RunInTx(ctx, func(tx Tx) error {
		rec.Tx = tx
		rec.teams = nil
		rec.listingsChanged = false
		return fn(rec)
	})
	if err != nil {
		return err
	}

	// Invalidate only after commit so a concurrent reader cannot re-populate
	// the cache with pre-commit state.
	keys := make([]string, 0, len(rec.teams)+1)
	for _, id := range rec.teams {
		keys = append(keys, teamKey(id))
	}
	if rec.listingsChanged {
		keys = append(keys, listingsKey)
	}
	s.invalidate(ctx, keys...)
	return nil
}

// invalidate evicts keys once a write has committed. The caller's ctx may
// already be cancelled by then, so the eviction runs detached from it.
func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	s.rdb.Del(context.WithoutCancel(ctx), keys...)
}

func (s *CachedStore) CreateTeam(ctx context.Context, team *model.Team) error {
	if err := s.primary.CreateTeam(ctx, team); err != nil {
		return err
	}
	s.invalidate(ctx, teamKey(team.ID))
	return nil
}

func (s *CachedStore) UpdateTeamProfile(ctx context.Context, id, name, country string) error {
	if err := s.primary.UpdateTeamProfile(ctx, id, name, country); err != nil {
		return err
	}
	s.invalidate(ctx, teamKey(id))
	return nil
}

func (s *CachedStore) UpdatePlayerProfile(ctx context.Context, id, firstName, lastName, country string) error {
	if err := s.primary.UpdatePlayerProfile(ctx, id, firstName, lastName, country); err != nil {
		return err
	}
	// The player is embedded in its team snapshot and possibly in the
	// listing feed.
	keys := []string{listingsKey}
	if p, err := s.primary.GetPlayer(context.WithoutCancel(ctx), id); err == nil {
		keys = append(keys, teamKey(p.TeamID))
	}
	s.invalidate(ctx, keys...)
	return nil
}

func (s *CachedStore) DeleteTeam(ctx context.Context, id string) error {
	if err := s.primary.DeleteTeam(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, teamKey(id), listingsKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	data, err := s.rdb.Get(ctx, teamKey(id)).Bytes()
	if err == nil {
		var t model.Team
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, teamKey(id), data, s.ttl)
	}
	return t, nil
}

func (s *CachedStore) ListListings(ctx context.Context) ([]model.Listing, error) {
	data, err := s.rdb.Get(ctx, listingsKey).Bytes()
	if err == nil {
		var listings []model.Listing
		if json.Unmarshal(data, &listings) == nil {
			return listings, nil
		}
	}

	listings, err := s.primary.ListListings(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(listings); err == nil {
		s.rdb.Set(ctx, listingsKey, data, s.ttl)
	}
	return listings, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return s.primary.GetPlayer(ctx, id)
}

func (s *CachedStore) IsListed(ctx context.Context, playerID string) (bool, error) {
	return s.primary.IsListed(ctx, playerID)
}

// recordingTx notes which cache keys a unit of work dirties.
type recordingTx struct {
	Tx
	teams           []string
	listingsChanged bool
}

func (r *recordingTx) CreateListing(ctx context.Context, l *model.Listing) error {
	if err := r.Tx.CreateListing(ctx, l); err != nil {
		return err
	}
	r.listingsChanged = true
	return nil
}

func (r *recordingTx) RemoveListing(ctx context.Context, id string) error {
	if err := r.Tx.RemoveListing(ctx, id); err != nil {
		return err
	}
	r.listingsChanged = true
	return nil
}

func (r *recordingTx) SaveTeam(ctx context.Context, team *model.Team) error {
	if err := r.Tx.SaveTeam(ctx, team); err != nil {
		return err
	}
	r.teams = append(r.teams, team.ID)
	return nil
}

func (r *recordingTx) SavePlayer(ctx context.Context, player *model.Player) error {
	if err := r.Tx.SavePlayer(ctx, player); err != nil {
		return err
	}
	// A player's value is shown in the listing feed.
	r.listingsChanged = true
	return nil
}

// --- Cache helpers ---

func teamKey(id string) string { return fmt.Sprintf("team:%s", id) }
