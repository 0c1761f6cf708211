package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBookingErrorMessage(t *testing.T) {
	err := newError(KindSubmissionRejected, "check search result", nil, "檢測碼輸入錯誤", "請重新輸入")
	assert.Equal(t, "check search result: submission_rejected (檢測碼輸入錯誤; 請重新輸入)", err.Error())

	wrapped := newError(KindTransport, "load page", errors.New("connection reset"))
	assert.Equal(t, "load page: transport: connection reset", wrapped.Error())
}

func TestKindOfUnwraps(t *testing.T) {
	inner := newError(KindSoldOut, "search trains", nil)
	err := fmt.Errorf("attempt 3: %w", inner)

	assert.Equal(t, KindSoldOut, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestErrCancelledMatchesAnyCancelledError(t *testing.T) {
	err := newError(KindCancelled, "", context.Canceled)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, newError(KindTransport, "", nil), ErrCancelled)
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindInvalidRequest, true},
		{KindDateOutOfRange, true},
		{KindParse, true},
		{KindCancelled, true},
		{KindTransport, false},
		{KindChallengeUnresolved, false},
		{KindSubmissionRejected, false},
		{KindSoldOut, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTerminal(newError(tt.kind, "op", nil)), tt.kind.String())
	}
	assert.False(t, IsTerminal(errors.New("plain")))
}
