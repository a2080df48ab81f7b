package engine

import (
	"errors"
	"fmt"

	"github.com/park285/cheese-arena/pkg/arenadto"
)

var (
	ErrBusy            = errors.New("session busy")
	ErrIllegalMove     = errors.New("illegal move")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrNotParticipant  = errors.New("not a participant")
	ErrSessionOver     = errors.New("session is over")
	ErrTimeExpired     = errors.New("time expired")
	ErrCorruptSession  = errors.New("session state is corrupt")
	ErrNotClaimable    = errors.New("no draw to claim")
	ErrNoDrawOffer     = errors.New("no draw offer pending")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnavailable     = errors.New("backing service unavailable")

	// errPositionMoved aborts a bot move computed for a position that has since changed.
	errPositionMoved = errors.New("position changed while thinking")
)

var codes = []struct {
	err       error
	code      string
	retryable bool
}{
	{ErrBusy, arenadto.CodeBusy, true},
	{ErrIllegalMove, arenadto.CodeIllegalMove, false},
	{ErrNotYourTurn, arenadto.CodeNotYourTurn, false},
	{ErrNotParticipant, arenadto.CodeNotParticipant, false},
	{ErrSessionOver, arenadto.CodeSessionOver, false},
	{ErrTimeExpired, arenadto.CodeTimeExpired, false},
	{ErrCorruptSession, arenadto.CodeCorrupt, false},
	{ErrNotClaimable, arenadto.CodeNotClaimable, false},
	{ErrNoDrawOffer, arenadto.CodeNoDrawOffer, false},
	{ErrSessionNotFound, arenadto.CodeNotFound, false},
	{ErrInvalidRequest, arenadto.CodeInvalidRequest, false},
	{ErrUnavailable, arenadto.CodeUnavailable, true},
}

// ToDomainError maps an engine error to its wire form. Unknown errors are reported as unavailable.
func ToDomainError(err error) *arenadto.DomainError {
	if err == nil {
		return nil
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return &arenadto.DomainError{Code: c.code, Message: err.Error(), Retryable: c.retryable}
		}
	}
	return &arenadto.DomainError{Code: arenadto.CodeUnavailable, Message: err.Error(), Retryable: true}
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, what, err)
}
