package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := New(KindAgentNotFound, "changeStatus", "a1", "no such agent")

	assert.True(t, errors.Is(err, ErrAgentNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "changeStatus: no such agent (agent a1)", err.Error())
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("transition: %w", Wrap(KindStoreUnavailable, "insert", "a1", cause))

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindConflict))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindConflict, true},
		{KindStoreUnavailable, true},
		{KindAgentNotFound, false},
		{KindInvalidTransition, false},
		{KindUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.kind, "", "", "").Retryable())
		})
	}
}
