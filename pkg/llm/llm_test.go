package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", fmt.Errorf("call: %w", ErrTransient), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"google rate limit", &googleapi.Error{Code: 429}, true},
		{"google bad request", &googleapi.Error{Code: 400}, false},
		{"azure unavailable", &azcore.ResponseError{StatusCode: 503}, true},
		{"azure unauthorized", &azcore.ResponseError{StatusCode: 401}, false},
		{"grpc text", errors.New("rpc error: code = Unavailable desc = overloaded"), true},
		{"plain", errors.New("invalid json"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestNewCompleterValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewCompleter(ctx, Options{Provider: "gemini"})
	assert.ErrorContains(t, err, "no api key")

	_, err = NewCompleter(ctx, Options{Provider: "cohere", APIKey: "k"})
	assert.ErrorContains(t, err, "unknown provider")

	_, err = NewCompleter(ctx, Options{Provider: "azure", APIKey: "k", Model: "gpt4o"})
	assert.ErrorContains(t, err, "endpoint")

	c, err := NewCompleter(ctx, Options{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	models, err := c.(ModelLister).ListModels(ctx)
	require.NoError(t, err)
	assert.Contains(t, models, defaultOpenAIModel)
}
