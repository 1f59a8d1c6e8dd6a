package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/cesardomingos/imagenius/internal/genbackend"
	"github.com/cesardomingos/imagenius/internal/models"
	"github.com/cesardomingos/imagenius/internal/retry"
)

func TestSuggestPromptsRequiresCredential(t *testing.T) {
	s := &Suggester{apiKey: "key", model: "gemini-2.0-flash"}

	_, err := s.SuggestPrompts(context.Background(), "", []models.ReferenceImage{{Data: []byte("x"), Mime: "image/png"}}, []string{"sunset"}, "")
	var apiErr *genbackend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, genbackend.KindUnauthenticated, apiErr.Kind)
}

func TestClassifyErrorMapsGoogleAPIStatuses(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		kind     genbackend.ErrorKind
		decision retry.Decision
	}{
		{name: "rate limited", code: 429, kind: genbackend.KindRateLimited, decision: retry.Retry},
		{name: "overloaded", code: 503, kind: genbackend.KindOverloaded, decision: retry.RetrySlow},
		{name: "invalid", code: 400, kind: genbackend.KindInvalid, decision: retry.Stop},
		{name: "unauthenticated", code: 401, kind: genbackend.KindUnauthenticated, decision: retry.Stop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(fmt.Errorf("call: %w", &googleapi.Error{Code: tt.code, Message: "upstream"}))
			var apiErr *genbackend.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.Equal(t, tt.decision, genbackend.Classify(err))
		})
	}
}

func TestClassifyErrorPassesThroughTransportFailures(t *testing.T) {
	plain := errors.New("connection reset")
	err := classifyError(plain)
	require.ErrorIs(t, err, plain)
	assert.Equal(t, retry.Stop, genbackend.Classify(err))
}

func TestParsePrompts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "plain lines",
			raw:  "a dog at sunset\na cat in the rain",
			want: []string{"a dog at sunset", "a cat in the rain"},
		},
		{
			name: "bulleted with blanks",
			raw:  "- first prompt\n\n* second prompt\n   \n",
			want: []string{"first prompt", "second prompt"},
		},
		{
			name: "empty",
			raw:  "\n  \n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parsePrompts(tt.raw))
		})
	}
}

func TestFormatFromMime(t *testing.T) {
	assert.Equal(t, "png", formatFromMime("image/png"))
	assert.Equal(t, "webp", formatFromMime("image/webp"))
	assert.Equal(t, "jpeg", formatFromMime("image/jpeg"))
	assert.Equal(t, "jpeg", formatFromMime(""))
}

func TestBuildInstructionMentionsThemesAndTemplate(t *testing.T) {
	out := buildInstruction([]string{"sunset", "noir"}, "tpl-7")
	assert.Contains(t, out, "sunset, noir")
	assert.Contains(t, out, "tpl-7")
	assert.Contains(t, out, "one prompt per line")
}
