package market_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halftime/fantasy-market/internal/market"
	"github.com/halftime/fantasy-market/internal/model"
	"github.com/halftime/fantasy-market/internal/store"
	"github.com/halftime/fantasy-market/internal/valuation"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

// fixedDraw always returns the same offset, so the bump percentage is
// MinBumpPercent + n.
type fixedDraw int

func (f fixedDraw) IntN(n int) int { return int(f) % n }

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []market.Event
}

func (r *recorder) Publish(ev market.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// seedTeam stores a team whose players are each worth 1,000,000.
func seedTeam(t *testing.T, st store.Store, id string, budget int64, players ...string) {
	t.Helper()
	team := &model.Team{ID: id, Name: "Team " + id, Country: "Italy", Budget: d(budget), CreatedAt: time.Now()}
	for i, pid := range players {
		team.Players = append(team.Players, model.Player{
			ID: pid, TeamID: id, FirstName: "F", LastName: fmt.Sprint(i),
			Country: "Italy", Position: model.Midfielder, Age: 22, MarketValue: d(1000000),
		})
	}
	team.MarketValue = team.PlayersValue()
	require.NoError(t, st.CreateTeam(context.Background(), team))
}

func newEngine(t *testing.T, src valuation.RandomSource) (*market.Engine, *store.MemoryStore, *recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &recorder{}
	eng := market.NewEngine(st, valuation.NewPolicy(src), market.WithPublisher(rec))
	return eng, st, rec
}

func team(t *testing.T, st store.Store, id string) *model.Team {
	t.Helper()
	tm, err := st.GetTeam(context.Background(), id)
	require.NoError(t, err)
	return tm
}

func assertValueInvariant(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		tm := team(t, st, id)
		assert.Truef(t, tm.MarketValue.Equal(tm.PlayersValue()),
			"team %s market value %s != sum of players %s", id, tm.MarketValue, tm.PlayersValue())
	}
}

// --- List ---

func TestList_Succeeds(t *testing.T) {
	ctx := context.Background()
	eng, st, rec := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 5000000, "P")

	l, err := eng.List(ctx, "A", "P", d(500000))
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, "P", l.PlayerID)
	assert.True(t, l.Value.Equal(d(500000)))
	require.NotNil(t, l.Player)
	assert.Equal(t, "A", l.Player.TeamID)

	listed, err := st.IsListed(ctx, "P")
	require.NoError(t, err)
	assert.True(t, listed)
	assert.Equal(t, []string{market.EventPlayerListed}, rec.types())
}

func TestList_AlreadyListed(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 5000000, "P")

	_, err := eng.List(ctx, "A", "P", d(500000))
	require.NoError(t, err)

	_, err = eng.List(ctx, "A", "P", d(900000))
	assert.ErrorIs(t, err, market.ErrAlreadyListed)
}

func TestList_NotOwner(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 5000000, "P")
	seedTeam(t, st, "B", 5000000, "Q")

	_, err := eng.List(ctx, "B", "P", d(500000))
	assert.ErrorIs(t, err, market.ErrNotOwner)

	_, err = eng.List(ctx, "B", "no-such-player", d(500000))
	assert.ErrorIs(t, err, market.ErrNotOwner)

	listed, _ := st.IsListed(ctx, "P")
	assert.False(t, listed)
}

func TestList_NonPositiveValue(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 5000000, "P")

	for _, v := range []decimal.Decimal{decimal.Zero, d(-1)} {
		_, err := eng.List(ctx, "A", "P", v)
		assert.ErrorIs(t, err, market.ErrInvalidAskValue)
	}
}

func TestList_ConcurrentSamePlayer(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 5000000, "P")

	const n = 20
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.List(ctx, "A", "P", d(int64(1000+i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, market.ErrAlreadyListed):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)

	listings, err := eng.ListActiveListings(ctx)
	require.NoError(t, err)
	assert.Len(t, listings, 1)
}

// --- Buy ---

func TestBuy_Scenario(t *testing.T) {
	ctx := context.Background()
	eng, st, rec := newEngine(t, valuation.NewSource(42))
	seedTeam(t, st, "A", 5000000, "P", "P2")
	seedTeam(t, st, "B", 1000000, "Q")

	_, err := eng.List(ctx, "A", "P", d(500000))
	require.NoError(t, err)

	p, err := eng.Buy(ctx, "B", "P")
	require.NoError(t, err)

	assert.Equal(t, "B", p.TeamID)
	assert.True(t, p.MarketValue.GreaterThanOrEqual(d(1100000)), "got %s", p.MarketValue)
	assert.True(t, p.MarketValue.LessThanOrEqual(d(1990000)), "got %s", p.MarketValue)

	a, b := team(t, st, "A"), team(t, st, "B")
	assert.True(t, b.Budget.Equal(d(500000)), "buyer budget %s", b.Budget)
	assert.True(t, a.Budget.Equal(d(5500000)), "seller budget %s", a.Budget)
	assert.True(t, b.HasPlayer("P"))
	assert.False(t, a.HasPlayer("P"))
	assert.True(t, a.MarketValue.Equal(d(1000000)), "seller loses pre-bump value")
	assert.True(t, b.MarketValue.Equal(d(1000000).Add(p.MarketValue)), "buyer gains post-bump value")
	assertValueInvariant(t, st, "A", "B")

	listings, err := eng.ListActiveListings(ctx)
	require.NoError(t, err)
	assert.Empty(t, listings)

	assert.Equal(t, []string{market.EventPlayerListed, market.EventPlayerTransferred}, rec.types())
}

func TestBuy_DeterministicBump(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(25)) // 35%
	seedTeam(t, st, "A", 0, "P")
	seedTeam(t, st, "B", 2000000)

	_, err := eng.List(ctx, "A", "P", d(750000))
	require.NoError(t, err)
	p, err := eng.Buy(ctx, "B", "P")
	require.NoError(t, err)

	assert.True(t, p.MarketValue.Equal(d(1350000)), "got %s", p.MarketValue)
	assert.True(t, team(t, st, "B").MarketValue.Equal(d(1350000)))
	assert.True(t, team(t, st, "A").MarketValue.IsZero())
}

func TestBuy_ExactBudgetSucceeds(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 0, "P")
	seedTeam(t, st, "B", 500000)

	_, err := eng.List(ctx, "A", "P", d(500000))
	require.NoError(t, err)

	_, err = eng.Buy(ctx, "B", "P")
	require.NoError(t, err)
	assert.True(t, team(t, st, "B").Budget.IsZero())
}

func TestBuy_InsufficientBudgetMutatesNothing(t *testing.T) {
	ctx := context.Background()
	eng, st, rec := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 100, "P")
	seedTeam(t, st, "B", 499999, "Q")

	_, err := eng.List(ctx, "A", "P", d(500000))
	require.NoError(t, err)
	beforeA, beforeB := team(t, st, "A"), team(t, st, "B")

	_, err = eng.Buy(ctx, "B", "P")
	assert.ErrorIs(t, err, market.ErrInsufficientBudget)

	afterA, afterB := team(t, st, "A"), team(t, st, "B")
	assert.Equal(t, beforeA, afterA)
	assert.Equal(t, beforeB, afterB)
	listed, _ := st.IsListed(ctx, "P")
	assert.True(t, listed)
	assert.Equal(t, []string{market.EventPlayerListed}, rec.types())
}

func TestBuy_NotListed(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 0, "P")
	seedTeam(t, st, "B", 5000000)

	_, err := eng.Buy(ctx, "B", "P")
	assert.ErrorIs(t, err, market.ErrNotListed)

	_, err = eng.Buy(ctx, "B", "ghost")
	assert.ErrorIs(t, err, market.ErrNotListed)
}

func TestBuy_SelfPurchase(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 5000000, "P")

	_, err := eng.List(ctx, "A", "P", d(10))
	require.NoError(t, err)

	_, err = eng.Buy(ctx, "A", "P")
	assert.ErrorIs(t, err, market.ErrSelfPurchase)
}

func TestBuy_UnknownBuyerTeam(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 0, "P")

	_, err := eng.List(ctx, "A", "P", d(10))
	require.NoError(t, err)

	_, err = eng.Buy(ctx, "nobody", "P")
	assert.ErrorIs(t, err, market.ErrTeamNotFound)
}

func TestBuy_SecondBuyFailsNotListed(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 0, "P")
	seedTeam(t, st, "B", 5000000)
	seedTeam(t, st, "C", 5000000)

	_, err := eng.List(ctx, "A", "P", d(100000))
	require.NoError(t, err)
	_, err = eng.Buy(ctx, "B", "P")
	require.NoError(t, err)

	_, err = eng.Buy(ctx, "C", "P")
	assert.ErrorIs(t, err, market.ErrNotListed)
	_, err = eng.Buy(ctx, "B", "P")
	assert.ErrorIs(t, err, market.ErrNotListed)
}

func TestBuy_ResaleAfterTransfer(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0)) // 10%
	seedTeam(t, st, "A", 1000000, "P")
	seedTeam(t, st, "B", 5000000)

	_, err := eng.List(ctx, "A", "P", d(100000))
	require.NoError(t, err)
	_, err = eng.Buy(ctx, "B", "P")
	require.NoError(t, err)

	_, err = eng.List(ctx, "A", "P", d(100000))
	assert.ErrorIs(t, err, market.ErrNotOwner, "old owner can no longer list")

	_, err = eng.List(ctx, "B", "P", d(200000))
	require.NoError(t, err)
	p, err := eng.Buy(ctx, "A", "P")
	require.NoError(t, err)

	assert.True(t, p.MarketValue.Equal(d(1210000)), "two 10%% bumps, got %s", p.MarketValue)
	assert.True(t, team(t, st, "A").Budget.Equal(d(900000)))
	assert.True(t, team(t, st, "B").Budget.Equal(d(5100000)))
	assertValueInvariant(t, st, "A", "B")
}

func TestBuy_ConcurrentBuyersOneWinner(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, valuation.NewSource(3))
	seedTeam(t, st, "S", 0, "P")

	const buyers = 12
	for i := 0; i < buyers; i++ {
		seedTeam(t, st, fmt.Sprintf("B%d", i), 1000000)
	}
	_, err := eng.List(ctx, "S", "P", d(400000))
	require.NoError(t, err)

	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Buy(ctx, fmt.Sprintf("B%d", i), "P")
		}(i)
	}
	wg.Wait()

	winners := 0
	total := team(t, st, "S").Budget
	for i, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, market.ErrNotListed)
		}
		total = total.Add(team(t, st, fmt.Sprintf("B%d", i)).Budget)
	}
	assert.Equal(t, 1, winners)
	assert.True(t, team(t, st, "S").Budget.Equal(d(400000)), "seller credited exactly once")
	assert.True(t, total.Equal(d(buyers*1000000)), "money is conserved")
}

func TestBuy_CrossTradesKeepInvariants(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, valuation.NewSource(11))
	seedTeam(t, st, "A", 10000000, "A1", "A2", "A3", "A4")
	seedTeam(t, st, "B", 10000000, "B1", "B2", "B3", "B4")

	for _, pid := range []string{"A1", "A2", "A3", "A4"} {
		_, err := eng.List(ctx, "A", pid, d(100000))
		require.NoError(t, err)
	}
	for _, pid := range []string{"B1", "B2", "B3", "B4"} {
		_, err := eng.List(ctx, "B", pid, d(150000))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, pid := range []string{"A1", "A2", "A3", "A4"} {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			_, err := eng.Buy(ctx, "B", pid)
			assert.NoError(t, err)
		}(pid)
	}
	for _, pid := range []string{"B1", "B2", "B3", "B4"} {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			_, err := eng.Buy(ctx, "A", pid)
			assert.NoError(t, err)
		}(pid)
	}
	wg.Wait()

	assertValueInvariant(t, st, "A", "B")
	a, b := team(t, st, "A"), team(t, st, "B")
	assert.True(t, a.Budget.Equal(d(10000000-600000+400000)))
	assert.True(t, b.Budget.Equal(d(10000000-400000+600000)))
	assert.Len(t, a.Players, 4)
	assert.Len(t, b.Players, 4)
}

// --- Failure atomicity ---

// flakyStore fails SavePlayer, the last write of a purchase.
type flakyStore struct {
	*store.MemoryStore
}

func (f flakyStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.MemoryStore.RunInTx(ctx, func(tx store.Tx) error {
		return fn(flakyTx{tx})
	})
}

type flakyTx struct{ store.Tx }

func (flakyTx) SavePlayer(context.Context, *model.Player) error {
	return errors.New("connection reset by peer")
}

func TestBuy_StorageFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedTeam(t, mem, "A", 0, "P")
	seedTeam(t, mem, "B", 5000000)

	_, err := market.NewEngine(mem, valuation.NewPolicy(fixedDraw(0))).List(ctx, "A", "P", d(100000))
	require.NoError(t, err)

	eng := market.NewEngine(flakyStore{mem}, valuation.NewPolicy(fixedDraw(0)))
	_, err = eng.Buy(ctx, "B", "P")

	var se *market.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "buy", se.Op)
	assert.False(t, market.IsConflict(err))

	assert.True(t, team(t, mem, "A").Budget.IsZero())
	assert.True(t, team(t, mem, "B").Budget.Equal(d(5000000)))
	p, err := mem.GetPlayer(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, "A", p.TeamID)
	assert.True(t, p.MarketValue.Equal(d(1000000)))
	listed, _ := mem.IsListed(ctx, "P")
	assert.True(t, listed)
}

// --- Lock order ---

// tracingStore logs the row locks and listing writes each transaction makes.
type tracingStore struct {
	*store.MemoryStore
	calls []string
}

func (s *tracingStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.calls = nil
	return s.MemoryStore.RunInTx(ctx, func(tx store.Tx) error {
		return fn(tracingTx{Tx: tx, s: s})
	})
}

type tracingTx struct {
	store.Tx
	s *tracingStore
}

func (t tracingTx) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	t.s.calls = append(t.s.calls, "lock player")
	return t.Tx.GetPlayer(ctx, id)
}

func (t tracingTx) CreateListing(ctx context.Context, l *model.Listing) error {
	t.s.calls = append(t.s.calls, "write listing")
	return t.Tx.CreateListing(ctx, l)
}

func (t tracingTx) RemoveListing(ctx context.Context, id string) error {
	t.s.calls = append(t.s.calls, "write listing")
	return t.Tx.RemoveListing(ctx, id)
}

func TestListAndBuy_LockPlayerBeforeListing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedTeam(t, mem, "A", 0, "P")
	seedTeam(t, mem, "B", 5000000)
	st := &tracingStore{MemoryStore: mem}
	eng := market.NewEngine(st, valuation.NewPolicy(fixedDraw(0)))

	_, err := eng.List(ctx, "A", "P", d(100000))
	require.NoError(t, err)
	assert.Equal(t, []string{"lock player", "write listing"}, st.calls, "list")

	_, err = eng.Buy(ctx, "B", "P")
	require.NoError(t, err)
	assert.Equal(t, []string{"lock player", "write listing"}, st.calls, "buy")
}

// --- ListActiveListings ---

func TestListActiveListings_EmbedsPlayers(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := newEngine(t, fixedDraw(0))
	seedTeam(t, st, "A", 0, "P1", "P2", "P3")

	empty, err := eng.ListActiveListings(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, pid := range []string{"P1", "P3"} {
		_, err := eng.List(ctx, "A", pid, d(10))
		require.NoError(t, err)
	}

	listings, err := eng.ListActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	for _, l := range listings {
		require.NotNil(t, l.Player)
		assert.Equal(t, l.PlayerID, l.Player.ID)
	}
}
