// Package llm holds the language model backends used for remediation
// generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"google.golang.org/api/googleapi"
)

// ErrTransient marks a failure worth retrying.
var ErrTransient = errors.New("transient llm error")

// Completer turns a system and user prompt into model text.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float32, maxTokens int32) (string, error)
}

// ModelLister is implemented by backends that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Options selects and authenticates a backend.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	// Endpoint is required for azure and optional for openai.
	Endpoint string
}

// Providers lists the backend names NewCompleter accepts.
var Providers = []string{"gemini", "azure", "openai"}

// NewCompleter builds the backend named by opts.Provider.
func NewCompleter(ctx context.Context, opts Options) (Completer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("no api key configured for provider %q", opts.Provider)
	}
	switch opts.Provider {
	case "gemini":
		return NewGemini(ctx, opts.APIKey, opts.Model)
	case "azure":
		return NewAzure(opts.Endpoint, opts.APIKey, opts.Model)
	case "openai":
		return NewOpenAI(opts.Endpoint, opts.APIKey, opts.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", opts.Provider)
	}
}

// IsTransient reports whether err is worth another attempt: explicit
// ErrTransient, timeouts, rate limits and server errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}
	var azErr *azcore.ResponseError
	if errors.As(err, &azErr) {
		return retryableStatus(azErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// gRPC status errors only surface as text
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"resource_exhausted", "unavailable", "deadline exceeded", "rate limit", "429", "503"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
