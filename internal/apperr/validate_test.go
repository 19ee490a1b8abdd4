package apperr

import (
	"errors"
	"strings"
	"testing"
)

type scoreRequest struct {
	AgentID string  `json:"agentId" validate:"required"`
	Quality float64 `json:"qualityScore" validate:"gte=0,lte=100"`
}

func TestFromValidation(t *testing.T) {
	v := NewValidator()
	err := v.Struct(scoreRequest{Quality: 140})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	got := FromValidation("setScores", "", err)
	if got.Kind != KindValidation {
		t.Errorf("kind = %s, want validation", got.Kind)
	}
	for _, want := range []string{"agentId is required", "qualityScore must satisfy lte=100"} {
		if !strings.Contains(got.Msg, want) {
			t.Errorf("message %q does not mention %q", got.Msg, want)
		}
	}
}

func TestFromValidationPlainError(t *testing.T) {
	got := FromValidation("op", "a1", errors.New("boom"))
	if !errors.Is(got, ErrValidation) {
		t.Errorf("expected validation kind, got %v", got)
	}
}
