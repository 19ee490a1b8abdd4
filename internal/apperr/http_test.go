package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
		code string
	}{
		{KindAgentNotFound, http.StatusNotFound, "agent_not_found"},
		{KindInvalidTransition, http.StatusConflict, "invalid_transition"},
		{KindNoActivePause, http.StatusConflict, "no_active_pause"},
		{KindConflict, http.StatusConflict, "busy"},
		{KindUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{KindValidation, http.StatusBadRequest, "validation"},
		{KindStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
		{KindInternal, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "op", "a1", "")
			assert.Equal(t, tt.want, HTTPStatus(err))
			assert.Equal(t, tt.code, Code(err))
		})
	}
}

func TestWriteHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, &Error{Kind: KindConflict, Msg: ErrConflict.Msg})

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "busy", body.Error.Code)
	assert.Equal(t, "another action is already in progress for this agent", body.Error.Message)
	assert.True(t, body.Error.Retryable)
}

func TestWriteHTTPHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, fmt.Errorf("query: %w", errors.New("password=hunter2")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}
