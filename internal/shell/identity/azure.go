package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
	"github.com/sloanahrens/branchdeploy/internal/core/environ"
)

// =============================================================================
// Azure Broker
// =============================================================================

// AzureBroker assembles the ARM_* credential without any network traffic: the
// Pulumi azure-native provider exchanges the OIDC token itself when handed
// ARM_USE_OIDC and ARM_OIDC_TOKEN.
type AzureBroker struct {
	logger *slog.Logger
}

// NewAzureBroker creates the pass-through broker.
func NewAzureBroker(logger *slog.Logger) *AzureBroker {
	return &AzureBroker{
		logger: logger.With("component", "identity", "cloud", "azure"),
	}
}

// Exchange re-verifies the identity preconditions and returns the credential.
// Although Validate has already checked the schema, this broker is the last
// gate before the token is injected into subprocesses, so it refuses to build
// a half-formed credential.
func (b *AzureBroker) Exchange(_ context.Context, env *environ.Environment) (domain.Credential, error) {
	var incomplete []string
	if env.Azure.ClientID == "" {
		incomplete = append(incomplete, environ.KeyAzureClientID)
	}
	if env.Azure.TenantID == "" {
		incomplete = append(incomplete, environ.KeyAzureTenantID)
	}
	if env.Azure.SubscriptionID == "" {
		incomplete = append(incomplete, environ.KeyAzureSubscriptionID)
	}
	if len(incomplete) > 0 {
		return domain.Credential{}, &ValidationError{
			Step:    "validation",
			Details: fmt.Sprintf("service principal identity incomplete: %s", strings.Join(incomplete, ", ")),
		}
	}
	if env.OIDCToken == "" {
		return domain.Credential{}, &ValidationError{
			Step:    "token_request",
			Details: "no OIDC token available for federated login",
		}
	}

	b.logger.Info("assembled federated credential for azure-native provider",
		"client_id", env.Azure.ClientID,
		"token_source", env.OIDCSource,
	)

	return domain.NewCredential(domain.CloudAzure, map[string]string{
		domain.EnvARMUseOIDC:        "true",
		domain.EnvARMOIDCToken:      env.OIDCToken,
		domain.EnvARMClientID:       env.Azure.ClientID,
		domain.EnvARMTenantID:       env.Azure.TenantID,
		domain.EnvARMSubscriptionID: env.Azure.SubscriptionID,
	}), nil
}
