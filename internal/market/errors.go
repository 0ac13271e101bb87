package market

import (
	"errors"
	"fmt"
)

// Caller-input and state conflicts. These are expected outcomes of List and
// Buy, returned as values and never retried.
var (
	ErrNotOwner           = errors.New("market: the player is not assigned to this team owner")
	ErrAlreadyListed      = errors.New("market: the player is already for sale")
	ErrNotListed          = errors.New("market: the player is not for sale")
	ErrSelfPurchase       = errors.New("market: the player is already assigned to this team owner")
	ErrInsufficientBudget = errors.New("market: not enough budget for this operation")
	ErrInvalidAskValue    = errors.New("market: asking value must be greater than 0")
	ErrTeamNotFound       = errors.New("market: team not found")
	ErrPlayerNotFound     = errors.New("market: player not found")
)

// StorageError reports an infrastructure failure underneath a market
// operation. Nothing was committed when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("market: %s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsConflict reports whether err is one of the domain outcomes above rather
// than an infrastructure failure.
func IsConflict(err error) bool {
	switch {
	case errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrAlreadyListed),
		errors.Is(err, ErrNotListed),
		errors.Is(err, ErrSelfPurchase),
		errors.Is(err, ErrInsufficientBudget),
		errors.Is(err, ErrInvalidAskValue),
		errors.Is(err, ErrTeamNotFound),
		errors.Is(err, ErrPlayerNotFound):
		return true
	}
	return false
}

// reason is the metrics label for a rejected operation.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrAlreadyListed):
		return "already_listed"
	case errors.Is(err, ErrNotListed):
		return "not_listed"
	case errors.Is(err, ErrSelfPurchase):
		return "self_purchase"
	case errors.Is(err, ErrInsufficientBudget):
		return "insufficient_budget"
	case errors.Is(err, ErrInvalidAskValue):
		return "invalid_value"
	case errors.Is(err, ErrTeamNotFound):
		return "team_not_found"
	case errors.Is(err, ErrPlayerNotFound):
		return "player_not_found"
	}
	return "storage"
}
