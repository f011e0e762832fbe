package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := New(KindOverlap, "slot %s overlaps", "abc")
	wrapped := fmt.Errorf("availability: create slot: %w", err)

	assert.True(t, errors.Is(wrapped, ErrOverlap))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindOverlap, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}

func TestWithCopiesDetails(t *testing.T) {
	e := ErrJoinWindowNotYetOpen.With("minutes_until_open", 55)

	assert.Equal(t, 55, e.Details["minutes_until_open"])
	assert.Nil(t, ErrJoinWindowNotYetOpen.Details)
	assert.True(t, errors.Is(e, ErrJoinWindowNotYetOpen))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	e := Wrap(KindSlotNotAvailable, cause, "claim failed")

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection reset")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		NotFound("x"):                  http.StatusNotFound,
		Forbidden("x"):                 http.StatusForbidden,
		Validation("x"):                http.StatusBadRequest,
		ErrPaymentRequired:             http.StatusPaymentRequired,
		ErrSlotNotAvailable:            http.StatusConflict,
		ErrExtensionLimitReached:       http.StatusConflict,
		InvalidState("x"):              http.StatusConflict,
		ErrInsufficientNotice:          http.StatusUnprocessableEntity,
		ErrCancellationWindowClosed:    http.StatusUnprocessableEntity,
		ErrJoinWindowClosed:            http.StatusUnprocessableEntity,
		errors.New("database is down"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}
