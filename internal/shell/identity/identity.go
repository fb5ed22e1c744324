// Package identity turns the CI job's OIDC token into cloud credentials.
// GCP requires an explicit two-hop exchange against Google's STS and IAM
// Credentials APIs; Azure only needs the token and service principal identity
// assembled for the azure-native provider, which exchanges it itself.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
	"github.com/sloanahrens/branchdeploy/internal/core/environ"
)

// =============================================================================
// Broker Interface
// =============================================================================

// Broker exchanges a validated environment for a cloud credential.
type Broker interface {
	Exchange(ctx context.Context, env *environ.Environment) (domain.Credential, error)
}

// BrokerFor returns the broker for a cloud. A nil httpClient gets a client
// with a 30s timeout; only the GCP broker performs HTTP at all.
func BrokerFor(cloud domain.Cloud, httpClient *http.Client, logger *slog.Logger) (Broker, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch cloud {
	case domain.CloudGCP:
		return NewGCPBroker(httpClient, logger), nil
	case domain.CloudAzure:
		return NewAzureBroker(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCloud, string(cloud))
	}
}

// =============================================================================
// Error Types
// =============================================================================

// ExchangeError reports a failed hop of the GCP token exchange. StatusCode
// and Body are set for HTTP-level rejections; Err for requests that never
// completed.
type ExchangeError struct {
	Step       string // "sts" or "iam"
	StatusCode int
	Body       string
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed at %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("token exchange failed at %s: status %d: %s", e.Step, e.StatusCode, e.Body)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// ValidationError reports credential preconditions that failed before any
// exchange was attempted.
type ValidationError struct {
	Step    string // "validation" or "token_request"
	Details string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("credential %s failed: %s", e.Step, e.Details)
}
