package domain

import (
	"fmt"
	"log/slog"
	"sort"
)

// =============================================================================
// Cloud Credential
// =============================================================================

// Environment variable names a Credential's assignments are published under.
// The GCP pair is read by the Pulumi google provider and the gcloud CLI; the
// ARM_* set is read by the Pulumi azure-native provider, which performs its
// own OIDC exchange.
const (
	EnvGoogleOAuthToken  = "GOOGLE_OAUTH_ACCESS_TOKEN"
	EnvCloudSDKAuthToken = "CLOUDSDK_AUTH_ACCESS_TOKEN"

	EnvARMUseOIDC        = "ARM_USE_OIDC"
	EnvARMOIDCToken      = "ARM_OIDC_TOKEN"
	EnvARMClientID       = "ARM_CLIENT_ID"
	EnvARMTenantID       = "ARM_TENANT_ID"
	EnvARMSubscriptionID = "ARM_SUBSCRIPTION_ID"
)

// Credential carries the short-lived environment assignments a cloud target
// needs injected into external-process invocations. It is threaded through
// the pipeline as an explicit value and never written into the ambient
// process environment.
type Credential struct {
	Cloud Cloud

	// vars holds the environment assignments. Values are secrets: they are
	// only ever rendered by EnvStrings for subprocess construction.
	vars map[string]string
}

// NewCredential creates a credential from environment assignments.
func NewCredential(cloud Cloud, vars map[string]string) Credential {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return Credential{Cloud: cloud, vars: copied}
}

// EnvStrings renders the assignments as KEY=VALUE pairs in sorted key order,
// ready to append to an exec.Cmd environment.
func (c Credential) EnvStrings() []string {
	keys := make([]string, 0, len(c.vars))
	for k := range c.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.vars[k])
	}
	return out
}

// Value returns a single assignment, primarily for registry login which
// feeds the token over stdin rather than the environment.
func (c Credential) Value(key string) string {
	return c.vars[key]
}

// Keys returns the assignment names in sorted order.
func (c Credential) Keys() []string {
	keys := make([]string, 0, len(c.vars))
	for k := range c.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String never exposes values.
func (c Credential) String() string {
	return fmt.Sprintf("credential(%s: %v)", c.Cloud, c.Keys())
}

// LogValue keeps tokens out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cloud", string(c.Cloud)),
		slog.Any("keys", c.Keys()),
	)
}
