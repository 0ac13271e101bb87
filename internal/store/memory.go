package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/halftime/fantasy-market/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A transaction holds the write lock for its whole lifetime and stages its
// writes in private maps, so a failed unit of work leaves nothing behind.
type MemoryStore struct {
	mu              sync.RWMutex
	teams           map[string]*model.Team
	players         map[string]*model.Player
	listings        map[string]*model.Listing
	listingByPlayer map[string]string // unique index: player id → listing id
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teams:           make(map[string]*model.Team),
		players:         make(map[string]*model.Player),
		listings:        make(map[string]*model.Listing),
		listingByPlayer: make(map[string]string),
	}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		teams:    make(map[string]*model.Team),
		players:  make(map[string]*model.Player),
		created:  make(map[string]*model.Listing),
		removed:  make(map[string]bool),
		byPlayer: make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id string) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.teamLocked(id)
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "player %s", id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListListings(_ context.Context) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]model.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		copy := *l
		if p, ok := s.players[l.PlayerID]; ok {
			snapshot := *p
			copy.Player = &snapshot
		}
		listings = append(listings, copy)
	}
	sortListings(listings)
	return listings, nil
}

func (s *MemoryStore) IsListed(_ context.Context, playerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.listingByPlayer[playerID]
	return ok, nil
}

func (s *MemoryStore) CreateTeam(_ context.Context, team *model.Team) error {
	if err := checkPositions(team); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.teams[team.ID]; exists {
		return errors.Errorf("team %s already exists", team.ID)
	}
	for _, p := range team.Players {
		if _, exists := s.players[p.ID]; exists {
			return errors.Errorf("player %s already exists", p.ID)
		}
	}

	t := *team
	t.Players = nil
	s.teams[team.ID] = &t
	for _, p := range team.Players {
		copy := p
		copy.TeamID = team.ID
		s.players[p.ID] = &copy
	}
	return nil
}

func (s *MemoryStore) UpdateTeamProfile(_ context.Context, id, name, country string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "team %s", id)
	}
	t.Name = name
	t.Country = country
	return nil
}

func (s *MemoryStore) UpdatePlayerProfile(_ context.Context, id, firstName, lastName, country string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "player %s", id)
	}
	p.FirstName = firstName
	p.LastName = lastName
	p.Country = country
	return nil
}

func (s *MemoryStore) DeleteTeam(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[id]; !ok {
		return errors.Wrapf(ErrNotFound, "team %s", id)
	}
	for pid, p := range s.players {
		if p.TeamID != id {
			continue
		}
		if lid, listed := s.listingByPlayer[pid]; listed {
			delete(s.listings, lid)
			delete(s.listingByPlayer, pid)
		}
		delete(s.players, pid)
	}
	delete(s.teams, id)
	return nil
}

// teamLocked assembles a team copy with its players. Caller holds s.mu.
func (s *MemoryStore) teamLocked(id string) (*model.Team, error) {
	t, ok := s.teams[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "team %s", id)
	}
	copy := *t
	copy.Players = nil
	for _, p := range s.players {
		if p.TeamID == id {
			copy.Players = append(copy.Players, *p)
		}
	}
	sortPlayers(copy.Players)
	return &copy, nil
}

// memTx stages writes until RunInTx commits them.
type memTx struct {
	s        *MemoryStore
	teams    map[string]*model.Team
	players  map[string]*model.Player
	created  map[string]*model.Listing
	removed  map[string]bool
	byPlayer map[string]string
}

func (tx *memTx) GetTeam(_ context.Context, id string) (*model.Team, error) {
	base, ok := tx.s.teams[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "team %s", id)
	}
	t := *base
	if staged, ok := tx.teams[id]; ok {
		t = *staged
	}
	t.Players = nil
	for pid := range tx.s.players {
		p, _ := tx.player(pid)
		if p.TeamID == id {
			t.Players = append(t.Players, *p)
		}
	}
	sortPlayers(t.Players)
	return &t, nil
}

func (tx *memTx) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	p, ok := tx.player(id)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "player %s", id)
	}
	copy := *p
	return &copy, nil
}

func (tx *memTx) LockTeams(ctx context.Context, a, b string) (*model.Team, *model.Team, error) {
	ta, err := tx.GetTeam(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	tb, err := tx.GetTeam(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return ta, tb, nil
}

func (tx *memTx) IsListed(_ context.Context, playerID string) (bool, error) {
	_, ok := tx.listingID(playerID)
	return ok, nil
}

func (tx *memTx) CreateListing(_ context.Context, l *model.Listing) error {
	if _, ok := tx.listingID(l.PlayerID); ok {
		return ErrDuplicateListing
	}
	if _, ok := tx.player(l.PlayerID); !ok {
		return errors.Wrapf(ErrNotFound, "player %s", l.PlayerID)
	}
	copy := *l
	copy.Player = nil
	tx.created[l.ID] = &copy
	tx.byPlayer[l.PlayerID] = l.ID
	return nil
}

func (tx *memTx) FindListingByPlayer(_ context.Context, playerID string) (*model.Listing, error) {
	id, ok := tx.listingID(playerID)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "listing for player %s", playerID)
	}
	l := tx.created[id]
	if l == nil {
		l = tx.s.listings[id]
	}
	copy := *l
	if p, ok := tx.player(playerID); ok {
		snapshot := *p
		copy.Player = &snapshot
	}
	return &copy, nil
}

func (tx *memTx) RemoveListing(_ context.Context, id string) error {
	if l, ok := tx.created[id]; ok {
		delete(tx.created, id)
		delete(tx.byPlayer, l.PlayerID)
		return nil
	}
	if _, ok := tx.s.listings[id]; !ok || tx.removed[id] {
		return ErrListingGone
	}
	tx.removed[id] = true
	return nil
}

func (tx *memTx) SaveTeam(_ context.Context, team *model.Team) error {
	if _, ok := tx.s.teams[team.ID]; !ok {
		return errors.Wrapf(ErrNotFound, "team %s", team.ID)
	}
	t := *team
	t.Players = nil
	tx.teams[team.ID] = &t
	return nil
}

func (tx *memTx) SavePlayer(_ context.Context, player *model.Player) error {
	if _, ok := tx.s.players[player.ID]; !ok {
		return errors.Wrapf(ErrNotFound, "player %s", player.ID)
	}
	if _, ok := tx.s.teams[player.TeamID]; !ok {
		return errors.Wrapf(ErrNotFound, "team %s", player.TeamID)
	}
	p := *player
	tx.players[player.ID] = &p
	return nil
}

func (tx *memTx) player(id string) (*model.Player, bool) {
	if p, ok := tx.players[id]; ok {
		return p, true
	}
	p, ok := tx.s.players[id]
	return p, ok
}

// listingID resolves the player's listing through the staged view.
func (tx *memTx) listingID(playerID string) (string, bool) {
	if id, ok := tx.byPlayer[playerID]; ok {
		return id, true
	}
	id, ok := tx.s.listingByPlayer[playerID]
	if !ok || tx.removed[id] {
		return "", false
	}
	return id, true
}

// commit applies staged writes. Caller holds s.mu.
func (tx *memTx) commit() {
	s := tx.s
	for id, t := range tx.teams {
		s.teams[id] = t
	}
	for id, p := range tx.players {
		s.players[id] = p
	}
	for id := range tx.removed {
		if l, ok := s.listings[id]; ok {
			delete(s.listingByPlayer, l.PlayerID)
			delete(s.listings, id)
		}
	}
	for id, l := range tx.created {
		s.listings[id] = l
		s.listingByPlayer[l.PlayerID] = id
	}
}

func sortPlayers(players []model.Player) {
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
}

func sortListings(listings []model.Listing) {
	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].CreatedAt.Equal(listings[j].CreatedAt) {
			return listings[i].CreatedAt.Before(listings[j].CreatedAt)
		}
		return listings[i].ID < listings[j].ID
	})
}
