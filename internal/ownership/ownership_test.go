package ownership

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/halftime/fantasy-market/internal/model"
)

// fixedBump multiplies by a constant factor.
type fixedBump struct{ factor decimal.Decimal }

func (f fixedBump) BumpValue(v decimal.Decimal) decimal.Decimal { return v.Mul(f.factor) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func teams() (*model.Player, *model.Team, *model.Team) {
	p := model.Player{ID: "p1", TeamID: "seller", MarketValue: d("1000000")}
	other := model.Player{ID: "p2", TeamID: "seller", MarketValue: d("1000000")}
	seller := &model.Team{ID: "seller", MarketValue: d("2000000"), Players: []model.Player{p, other}}
	buyerPlayer := model.Player{ID: "p3", TeamID: "buyer", MarketValue: d("3000000")}
	buyer := &model.Team{ID: "buyer", MarketValue: d("3000000"), Players: []model.Player{buyerPlayer}}
	return &p, buyer, seller
}

func TestMove_AsymmetricValuation(t *testing.T) {
	p, buyer, seller := teams()

	if err := Move(p, buyer, seller, fixedBump{d("1.5")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !seller.MarketValue.Equal(d("1000000")) {
		t.Errorf("seller value should drop by pre-bump 1000000, got %s", seller.MarketValue)
	}
	if !p.MarketValue.Equal(d("1500000")) {
		t.Errorf("player value should be 1500000, got %s", p.MarketValue)
	}
	if !buyer.MarketValue.Equal(d("4500000")) {
		t.Errorf("buyer value should rise by post-bump 1500000, got %s", buyer.MarketValue)
	}
}

func TestMove_ReassignsCollections(t *testing.T) {
	p, buyer, seller := teams()

	if err := Move(p, buyer, seller, fixedBump{d("1.1")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.TeamID != "buyer" {
		t.Errorf("expected team_id=buyer, got %s", p.TeamID)
	}
	if seller.HasPlayer("p1") {
		t.Error("seller should no longer hold p1")
	}
	if !buyer.HasPlayer("p1") {
		t.Error("buyer should hold p1")
	}
	if len(seller.Players) != 1 || len(buyer.Players) != 2 {
		t.Errorf("unexpected roster sizes: seller=%d buyer=%d", len(seller.Players), len(buyer.Players))
	}
}

func TestMove_PreservesAggregateInvariant(t *testing.T) {
	p, buyer, seller := teams()

	if err := Move(p, buyer, seller, fixedBump{d("1.37")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !seller.MarketValue.Equal(seller.PlayersValue()) {
		t.Errorf("seller value %s != sum of players %s", seller.MarketValue, seller.PlayersValue())
	}
	if !buyer.MarketValue.Equal(buyer.PlayersValue()) {
		t.Errorf("buyer value %s != sum of players %s", buyer.MarketValue, buyer.PlayersValue())
	}
}

func TestMove_RejectsWrongSeller(t *testing.T) {
	p, buyer, _ := teams()
	impostor := &model.Team{ID: "impostor"}

	if err := Move(p, buyer, impostor, fixedBump{d("1.1")}); err == nil {
		t.Fatal("expected error when seller does not own the player")
	}
	if p.TeamID != "seller" {
		t.Error("player must not change team on error")
	}
}

func TestMove_RejectsSameTeam(t *testing.T) {
	p, _, seller := teams()

	if err := Move(p, seller, seller, fixedBump{d("1.1")}); err == nil {
		t.Fatal("expected error when buyer == seller")
	}
}
