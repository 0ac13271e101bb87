// Package roster creates new teams with a generated squad and handles the
// profile administration around them: renaming teams and players and
// deleting a team together with its market listings.
package roster

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halftime/fantasy-market/internal/market"
	"github.com/halftime/fantasy-market/internal/metrics"
	"github.com/halftime/fantasy-market/internal/model"
	"github.com/halftime/fantasy-market/internal/store"
	"github.com/halftime/fantasy-market/internal/valuation"
)

const (
	SquadSize = 20
	MinAge    = 18
	MaxAge    = 39
)

var (
	InitialBudget      = decimal.NewFromInt(5000000)
	InitialPlayerValue = decimal.NewFromInt(1000000)
)

// Service owns team registration and profile edits.
type Service struct {
	store  store.Store
	names  NameGenerator
	rng    valuation.RandomSource
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a roster service. rng draws player ages and must be
// safe for concurrent use.
func NewService(st store.Store, names NameGenerator, rng valuation.RandomSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, names: names, rng: rng, logger: logger, now: time.Now}
}

// Register creates a team with a full generated squad.
func (s *Service) Register(ctx context.Context) (*model.Team, error) {
	team := &model.Team{
		ID:        uuid.New().String(),
		Name:      s.names.TeamName(),
		Country:   s.names.Country(),
		Budget:    InitialBudget,
		CreatedAt: s.now().UTC(),
	}
	team.Players = make([]model.Player, 0, SquadSize)
	for i := 0; i < SquadSize; i++ {
		team.Players = append(team.Players, model.Player{
			ID:          uuid.New().String(),
			TeamID:      team.ID,
			FirstName:   s.names.FirstName(),
			LastName:    s.names.LastName(),
			Country:     s.names.Country(),
			Position:    positionFor(i),
			Age:         MinAge + s.rng.IntN(MaxAge-MinAge+1),
			MarketValue: InitialPlayerValue,
		})
	}
	team.MarketValue = team.PlayersValue()

	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, s.fail("register", err)
	}

	metrics.TeamsRegistered.Inc()
	s.logger.Info("team registered",
		zap.String("team_id", team.ID),
		zap.String("name", team.Name),
		zap.String("country", team.Country),
	)
	return team, nil
}

// positionFor assigns 3 goalkeepers, 6 defenders, 6 midfielders and 5
// attackers by squad index.
func positionFor(i int) model.Position {
	switch {
	case i < 3:
		return model.Goalkeeper
	case i < 9:
		return model.Defender
	case i < 15:
		return model.Midfielder
	default:
		return model.Attacker
	}
}

// GetTeam returns the team with its players.
func (s *Service) GetTeam(ctx context.Context, teamID string) (*model.Team, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, market.ErrTeamNotFound
	}
	if err != nil {
		return nil, s.fail("get_team", err)
	}
	return team, nil
}

// UpdateTeam renames the team. A blank name or an unrecognized country
// leaves that field unchanged.
func (s *Service) UpdateTeam(ctx context.Context, teamID, name, country string) (*model.Team, error) {
	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if n := strings.TrimSpace(name); n != "" {
		team.Name = n
	}
	if c, ok := s.names.CanonicalCountry(country); ok {
		team.Country = c
	}

	err = s.store.UpdateTeamProfile(ctx, teamID, team.Name, team.Country)
	if errors.Is(err, store.ErrNotFound) {
		return nil, market.ErrTeamNotFound
	}
	if err != nil {
		return nil, s.fail("update_team", err)
	}
	s.logger.Info("team updated", zap.String("team_id", teamID))
	return team, nil
}

// GetPlayer returns a player owned by teamID.
func (s *Service) GetPlayer(ctx context.Context, teamID, playerID string) (*model.Player, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, market.ErrPlayerNotFound
	}
	if err != nil {
		return nil, s.fail("get_player", err)
	}
	if player.TeamID != teamID {
		return nil, market.ErrNotOwner
	}
	return player, nil
}

// UpdatePlayer renames a player owned by teamID. Blank names and an
// unrecognized country leave those fields unchanged.
func (s *Service) UpdatePlayer(ctx context.Context, teamID, playerID, firstName, lastName, country string) (*model.Player, error) {
	player, err := s.GetPlayer(ctx, teamID, playerID)
	if err != nil {
		return nil, err
	}
	if n := strings.TrimSpace(firstName); n != "" {
		player.FirstName = n
	}
	if n := strings.TrimSpace(lastName); n != "" {
		player.LastName = n
	}
	if c, ok := s.names.CanonicalCountry(country); ok {
		player.Country = c
	}

	err = s.store.UpdatePlayerProfile(ctx, playerID, player.FirstName, player.LastName, player.Country)
	if errors.Is(err, store.ErrNotFound) {
		return nil, market.ErrPlayerNotFound
	}
	if err != nil {
		return nil, s.fail("update_player", err)
	}
	s.logger.Info("player updated", zap.String("team_id", teamID), zap.String("player_id", playerID))
	return player, nil
}

// DeleteTeam removes the team, its players and their active listings.
func (s *Service) DeleteTeam(ctx context.Context, teamID string) error {
	err := s.store.DeleteTeam(ctx, teamID)
	if errors.Is(err, store.ErrNotFound) {
		return market.ErrTeamNotFound
	}
	if err != nil {
		return s.fail("delete_team", err)
	}
	s.logger.Info("team deleted", zap.String("team_id", teamID))
	return nil
}

func (s *Service) fail(op string, err error) error {
	s.logger.Error("roster operation failed", zap.String("op", op), zap.Error(err))
	return &market.StorageError{Op: op, Err: err}
}
