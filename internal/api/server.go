// Package api exposes the transfer market and roster administration over
// HTTP and streams committed market events over WebSocket.
//
// Callers are identified by the X-Team-ID header, which the gateway sets
// after authenticating the user. The header is trusted as-is.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halftime/fantasy-market/internal/market"
	"github.com/halftime/fantasy-market/internal/model"
)

// TeamHeader carries the authenticated caller's team id.
const TeamHeader = "X-Team-ID"

type ctxKey struct{}

// Market is the subset of *market.Engine the handlers use.
type Market interface {
	List(ctx context.Context, teamID, playerID string, value decimal.Decimal) (*model.Listing, error)
	Buy(ctx context.Context, teamID, playerID string) (*model.Player, error)
	ListActiveListings(ctx context.Context) ([]model.Listing, error)
}

// Roster is the subset of *roster.Service the handlers use.
type Roster interface {
	Register(ctx context.Context) (*model.Team, error)
	GetTeam(ctx context.Context, teamID string) (*model.Team, error)
	UpdateTeam(ctx context.Context, teamID, name, country string) (*model.Team, error)
	GetPlayer(ctx context.Context, teamID, playerID string) (*model.Player, error)
	UpdatePlayer(ctx context.Context, teamID, playerID, firstName, lastName, country string) (*model.Player, error)
	DeleteTeam(ctx context.Context, teamID string) error
}

// Server holds the HTTP handlers.
type Server struct {
	market Market
	roster Roster
	hub    *Hub
	logger *zap.Logger
}

// NewServer wires the handlers. hub may be nil to disable /ws.
func NewServer(m Market, r Roster, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{market: m, roster: r, hub: hub, logger: logger}
}

// --- Request types ---

// SellRequest is the JSON body for POST /market/sell.
type SellRequest struct {
	PlayerID string          `json:"player_id" validate:"required"`
	Value    decimal.Decimal `json:"value" validate:"positive_decimal"`
}

// BuyRequest is the JSON body for POST /market/buy.
type BuyRequest struct {
	PlayerID string `json:"player_id" validate:"required"`
}

// UpdateTeamRequest is the JSON body for PATCH /teams/me. Blank fields and
// unknown countries are ignored.
type UpdateTeamRequest struct {
	Name    string `json:"name" validate:"max=100"`
	Country string `json:"country" validate:"max=100"`
}

// UpdatePlayerRequest is the JSON body for PATCH /players/{playerID}.
type UpdatePlayerRequest struct {
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Country   string `json:"country" validate:"max=100"`
}

// Routes mounts the API under r.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/teams", s.RegisterTeam)
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(RequireTeam)

			r.Get("/market", s.ListMarket)
			r.Post("/market/sell", s.Sell)
			r.Post("/market/buy", s.Buy)

			r.Get("/teams/me", s.GetTeam)
			r.Patch("/teams/me", s.UpdateTeam)
			r.Delete("/teams/me", s.DeleteTeam)

			r.Get("/players/{playerID}", s.GetPlayer)
			r.Patch("/players/{playerID}", s.UpdatePlayer)
		})
	})
}

// RequireTeam rejects requests without a team identity and stores it in
// the request context.
func RequireTeam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		teamID := r.Header.Get(TeamHeader)
		if teamID == "" {
			writeError(w, "missing "+TeamHeader+" header", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, teamID)))
	})
}

// TeamID returns the caller's team id set by RequireTeam.
func TeamID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// --- Market ---

// ListMarket handles GET /api/v1/market
func (s *Server) ListMarket(w http.ResponseWriter, r *http.Request) {
	listings, err := s.market.ListActiveListings(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// Sell handles POST /api/v1/market/sell
func (s *Server) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if !s.decode(w, r, &req) {
		return
	}

	listing, err := s.market.List(r.Context(), TeamID(r.Context()), req.PlayerID, req.Value)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// Buy handles POST /api/v1/market/buy
func (s *Server) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if !s.decode(w, r, &req) {
		return
	}

	player, err := s.market.Buy(r.Context(), TeamID(r.Context()), req.PlayerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// --- Teams ---

// RegisterTeam handles POST /api/v1/teams
func (s *Server) RegisterTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.roster.Register(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

// GetTeam handles GET /api/v1/teams/me
func (s *Server) GetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.roster.GetTeam(r.Context(), TeamID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// UpdateTeam handles PATCH /api/v1/teams/me
func (s *Server) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req UpdateTeamRequest
	if !s.decode(w, r, &req) {
		return
	}

	team, err := s.roster.UpdateTeam(r.Context(), TeamID(r.Context()), req.Name, req.Country)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// DeleteTeam handles DELETE /api/v1/teams/me
func (s *Server) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.roster.DeleteTeam(r.Context(), TeamID(r.Context())); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Players ---

// GetPlayer handles GET /api/v1/players/{playerID}
func (s *Server) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.roster.GetPlayer(r.Context(), TeamID(r.Context()), chi.URLParam(r, "playerID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// UpdatePlayer handles PATCH /api/v1/players/{playerID}
func (s *Server) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlayerRequest
	if !s.decode(w, r, &req) {
		return
	}

	player, err := s.roster.UpdatePlayer(r.Context(), TeamID(r.Context()), chi.URLParam(r, "playerID"),
		req.FirstName, req.LastName, req.Country)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// --- Helpers ---

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validateRequest(dst); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeDomainError maps market and roster errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, market.ErrAlreadyListed),
		errors.Is(err, market.ErrSelfPurchase),
		errors.Is(err, market.ErrInsufficientBudget):
		return http.StatusConflict
	case errors.Is(err, market.ErrNotListed),
		errors.Is(err, market.ErrTeamNotFound),
		errors.Is(err, market.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrInvalidAskValue):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
