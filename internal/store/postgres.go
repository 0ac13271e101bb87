package store

import (
	"context"
	stderrors "errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/halftime/fantasy-market/internal/model"
)

const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool Pool
}

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ Pool = (*pgxpool.Pool)(nil)

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *PostgresStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return loadTeam(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return loadPlayer(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListListings(ctx context.Context) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, l.player_id, l.value::TEXT, l.created_at,
		        `+playerColumns("p")+`
		 FROM listings l
		 JOIN players p ON p.id = l.player_id
		 ORDER BY l.created_at, l.id`)
	if err != nil {
		return nil, errors.Wrap(err, "list listings")
	}
	defer rows.Close()

	listings := []model.Listing{}
	for rows.Next() {
		var l model.Listing
		var p model.Player
		var valueS, playerValueS string
		if err := rows.Scan(&l.ID, &l.PlayerID, &valueS, &l.CreatedAt,
			&p.ID, &p.TeamID, &p.FirstName, &p.LastName, &p.Country,
			&p.Position, &p.Age, &playerValueS); err != nil {
			return nil, errors.Wrap(err, "scan listing")
		}
		if l.Value, err = decimal.NewFromString(valueS); err != nil {
			return nil, errors.Wrapf(err, "listing %s value", l.ID)
		}
		if p.MarketValue, err = decimal.NewFromString(playerValueS); err != nil {
			return nil, errors.Wrapf(err, "player %s market value", p.ID)
		}
		l.Player = &p
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) IsListed(ctx context.Context, playerID string) (bool, error) {
	return isListed(ctx, s.pool, playerID)
}

func (s *PostgresStore) CreateTeam(ctx context.Context, team *model.Team) error {
	if err := checkPositions(team); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO teams (id, name, country, budget, market_value, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		team.ID, team.Name, team.Country,
		team.Budget.String(), team.MarketValue.String(), team.CreatedAt,
	); err != nil {
		return errors.Wrapf(err, "insert team %s", team.ID)
	}

	batch := &pgx.Batch{}
	for _, p := range team.Players {
		batch.Queue(
			`INSERT INTO players (id, team_id, first_name, last_name, country, position, age, market_value)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC)`,
			p.ID, team.ID, p.FirstName, p.LastName, p.Country,
			string(p.Position), p.Age, p.MarketValue.String(),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range team.Players {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return errors.Wrapf(err, "insert players for team %s", team.ID)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "close batch")
	}

	return errors.Wrap(tx.Commit(ctx), "commit team")
}

func (s *PostgresStore) UpdateTeamProfile(ctx context.Context, id, name, country string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams SET name = $2, country = $3 WHERE id = $1`, id, name, country)
	if err != nil {
		return errors.Wrapf(err, "update team %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "team %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdatePlayerProfile(ctx context.Context, id, firstName, lastName, country string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET first_name = $2, last_name = $3, country = $4 WHERE id = $1`,
		id, firstName, lastName, country)
	if err != nil {
		return errors.Wrapf(err, "update player %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "player %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteTeam(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	// Player rows first, the same lock List and Buy take, so no listing
	// for this team can be committed while the deletes run.
	if _, err := tx.Exec(ctx,
		`SELECT id FROM players WHERE team_id = $1 ORDER BY id FOR UPDATE`, id); err != nil {
		return errors.Wrapf(err, "lock players of team %s", id)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM listings WHERE player_id IN (SELECT id FROM players WHERE team_id = $1)`, id); err != nil {
		return errors.Wrapf(err, "delete listings of team %s", id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM players WHERE team_id = $1`, id); err != nil {
		return errors.Wrapf(err, "delete players of team %s", id)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete team %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "team %s", id)
	}
	return errors.Wrap(tx.Commit(ctx), "commit delete")
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return loadTeam(ctx, t.tx, id, false)
}

func (t *pgTx) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return loadPlayer(ctx, t.tx, id, true)
}

func (t *pgTx) LockTeams(ctx context.Context, a, b string) (*model.Team, *model.Team, error) {
	ids := []string{a, b}
	sort.Strings(ids)

	locked := make(map[string]*model.Team, 2)
	for _, id := range ids {
		team, err := loadTeam(ctx, t.tx, id, true)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = team
	}
	return locked[a], locked[b], nil
}

func (t *pgTx) IsListed(ctx context.Context, playerID string) (bool, error) {
	return isListed(ctx, t.tx, playerID)
}

func (t *pgTx) CreateListing(ctx context.Context, l *model.Listing) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO listings (id, player_id, value, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		l.ID, l.PlayerID, l.Value.String(), l.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateListing
	}
	return errors.Wrapf(err, "insert listing for player %s", l.PlayerID)
}

func (t *pgTx) FindListingByPlayer(ctx context.Context, playerID string) (*model.Listing, error) {
	var l model.Listing
	var valueS string
	err := t.tx.QueryRow(ctx,
		`SELECT id, player_id, value::TEXT, created_at
		 FROM listings WHERE player_id = $1`, playerID).
		Scan(&l.ID, &l.PlayerID, &valueS, &l.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "listing for player %s", playerID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get listing for player %s", playerID)
	}
	if l.Value, err = decimal.NewFromString(valueS); err != nil {
		return nil, errors.Wrapf(err, "listing %s value", l.ID)
	}
	return &l, nil
}

func (t *pgTx) RemoveListing(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete listing %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrListingGone
	}
	return nil
}

func (t *pgTx) SaveTeam(ctx context.Context, team *model.Team) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE teams SET budget = $2::NUMERIC, market_value = $3::NUMERIC WHERE id = $1`,
		team.ID, team.Budget.String(), team.MarketValue.String())
	if err != nil {
		return errors.Wrapf(err, "save team %s", team.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "team %s", team.ID)
	}
	return nil
}

func (t *pgTx) SavePlayer(ctx context.Context, player *model.Player) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE players SET team_id = $2, market_value = $3::NUMERIC WHERE id = $1`,
		player.ID, player.TeamID, player.MarketValue.String())
	if err != nil {
		return errors.Wrapf(err, "save player %s", player.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "player %s", player.ID)
	}
	return nil
}

// --- shared query helpers ---

func playerColumns(alias string) string {
	return alias + ".id, " + alias + ".team_id, " + alias + ".first_name, " +
		alias + ".last_name, " + alias + ".country, " + alias + ".position, " +
		alias + ".age, " + alias + ".market_value::TEXT"
}

func loadPlayer(ctx context.Context, q querier, id string, forUpdate bool) (*model.Player, error) {
	sql := `SELECT ` + playerColumns("p") + ` FROM players p WHERE p.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var p model.Player
	var valueS string
	err := q.QueryRow(ctx, sql, id).
		Scan(&p.ID, &p.TeamID, &p.FirstName, &p.LastName, &p.Country,
			&p.Position, &p.Age, &valueS)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "player %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get player %s", id)
	}
	if p.MarketValue, err = decimal.NewFromString(valueS); err != nil {
		return nil, errors.Wrapf(err, "player %s market value", id)
	}
	return &p, nil
}

func loadTeam(ctx context.Context, q querier, id string, forUpdate bool) (*model.Team, error) {
	sql := `SELECT id, name, country, budget::TEXT, market_value::TEXT, created_at
	        FROM teams WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var t model.Team
	var budgetS, valueS string
	err := q.QueryRow(ctx, sql, id).
		Scan(&t.ID, &t.Name, &t.Country, &budgetS, &valueS, &t.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "team %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get team %s", id)
	}
	if t.Budget, err = decimal.NewFromString(budgetS); err != nil {
		return nil, errors.Wrapf(err, "team %s budget", id)
	}
	if t.MarketValue, err = decimal.NewFromString(valueS); err != nil {
		return nil, errors.Wrapf(err, "team %s market value", id)
	}

	rows, err := q.Query(ctx,
		`SELECT `+playerColumns("p")+` FROM players p WHERE p.team_id = $1 ORDER BY p.id`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list players of team %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Player
		var pv string
		if err := rows.Scan(&p.ID, &p.TeamID, &p.FirstName, &p.LastName, &p.Country,
			&p.Position, &p.Age, &pv); err != nil {
			return nil, errors.Wrap(err, "scan player")
		}
		if p.MarketValue, err = decimal.NewFromString(pv); err != nil {
			return nil, errors.Wrapf(err, "player %s market value", p.ID)
		}
		t.Players = append(t.Players, p)
	}
	return &t, rows.Err()
}

func isListed(ctx context.Context, q querier, playerID string) (bool, error) {
	var listed bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM listings WHERE player_id = $1)`, playerID).Scan(&listed)
	if err != nil {
		return false, errors.Wrapf(err, "check listing for player %s", playerID)
	}
	return listed, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
