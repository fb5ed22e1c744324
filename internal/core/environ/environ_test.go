package environ

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
)

func validGCPVars() map[string]string {
	return map[string]string{
		KeyGCPProjectID:       "demo-project",
		KeyGCPProjectNumber:   "123456789",
		KeyGCPRegion:          "us-central1",
		KeyGCPStateBucket:     "demo-pulumi-state",
		KeyGCPDeployerSA:      "deployer@demo-project.iam.gserviceaccount.com",
		KeyPulumiPassphrase:   "hunter2",
		KeyBitbucketOIDCToken: "oidc-jwt",
	}
}

func validAzureVars() map[string]string {
	return map[string]string{
		KeyAzureClientID:       "client-id",
		KeyAzureTenantID:       "tenant-id",
		KeyAzureSubscriptionID: "sub-id",
		KeyAzureResourceGroup:  "branch-deploys",
		KeyAzureStorageAccount: "demostate",
		KeyPulumiPassphrase:    "hunter2",
		KeyBitbucketOIDCToken:  "oidc-jwt",
	}
}

// =============================================================================
// Validate
// =============================================================================

func TestValidateGCP(t *testing.T) {
	env, err := Validate(domain.CloudGCP, validGCPVars())
	require.NoError(t, err)

	assert.Equal(t, domain.CloudGCP, env.Cloud)
	assert.Equal(t, "demo-project", env.GCP.ProjectID)
	assert.Equal(t, "123456789", env.GCP.ProjectNumber)
	assert.Equal(t, "us-central1", env.GCP.Region)
	assert.Equal(t, "demo-pulumi-state", env.GCP.StateBucket)
	assert.Equal(t, "deployer@demo-project.iam.gserviceaccount.com", env.GCP.DeployerEmail)
	assert.Equal(t, "hunter2", env.Passphrase)

	// Optional keys fall back to defaults.
	assert.Equal(t, DefaultOrg, env.Org)
	assert.Equal(t, DefaultWIFPool, env.GCP.WIFPoolID)
	assert.Equal(t, DefaultWIFProvider, env.GCP.WIFProviderID)
}

func TestValidateGCPOptionalOverrides(t *testing.T) {
	vars := validGCPVars()
	vars[KeyPulumiOrg] = "acme"
	vars[KeyGCPWIFPool] = "ci-pool"
	vars[KeyGCPWIFProvider] = "ci-provider"

	env, err := Validate(domain.CloudGCP, vars)
	require.NoError(t, err)
	assert.Equal(t, "acme", env.Org)
	assert.Equal(t, "ci-pool", env.GCP.WIFPoolID)
	assert.Equal(t, "ci-provider", env.GCP.WIFProviderID)
}

func TestValidateAzure(t *testing.T) {
	env, err := Validate(domain.CloudAzure, validAzureVars())
	require.NoError(t, err)

	assert.Equal(t, domain.CloudAzure, env.Cloud)
	assert.Equal(t, "client-id", env.Azure.ClientID)
	assert.Equal(t, "tenant-id", env.Azure.TenantID)
	assert.Equal(t, "sub-id", env.Azure.SubscriptionID)
	assert.Equal(t, "branch-deploys", env.Azure.ResourceGroup)
	assert.Equal(t, "demostate", env.Azure.StorageAccount)
	assert.Equal(t, DefaultAzureLocation, env.Azure.Location)
}

func TestValidateCollectsAllMissingKeys(t *testing.T) {
	vars := validGCPVars()
	delete(vars, KeyGCPProjectNumber)
	delete(vars, KeyPulumiPassphrase)
	vars[KeyGCPRegion] = "" // empty counts as missing

	_, err := Validate(domain.CloudGCP, vars)
	require.Error(t, err)

	var missing *MissingVariablesError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, domain.CloudGCP, missing.Cloud)
	assert.Equal(t, []string{KeyGCPProjectNumber, KeyGCPRegion, KeyPulumiPassphrase}, missing.Keys)
	assert.Contains(t, err.Error(), KeyGCPProjectNumber)
	assert.Contains(t, err.Error(), KeyGCPRegion)
	assert.Contains(t, err.Error(), KeyPulumiPassphrase)
}

func TestValidateAzureMissingKeys(t *testing.T) {
	_, err := Validate(domain.CloudAzure, map[string]string{})
	require.Error(t, err)

	var missing *MissingVariablesError
	require.ErrorAs(t, err, &missing)
	assert.Len(t, missing.Keys, 6)
	assert.IsIncreasing(t, missing.Keys)
}

func TestValidateRejectsMalformedDeployerEmail(t *testing.T) {
	vars := validGCPVars()
	vars[KeyGCPDeployerSA] = "not-an-email"

	_, err := Validate(domain.CloudGCP, vars)
	require.Error(t, err)

	var schema *SchemaError
	require.ErrorAs(t, err, &schema)
	assert.Equal(t, KeyGCPDeployerSA, schema.Key)
}

func TestValidateRejectsUnknownCloud(t *testing.T) {
	_, err := Validate(domain.Cloud("aws"), map[string]string{})
	assert.ErrorIs(t, err, domain.ErrInvalidCloud)
}

// =============================================================================
// OIDC Token Selection
// =============================================================================

func TestValidateRequiresOIDCToken(t *testing.T) {
	vars := validGCPVars()
	delete(vars, KeyBitbucketOIDCToken)

	_, err := Validate(domain.CloudGCP, vars)
	assert.ErrorIs(t, err, ErrNoOIDCToken)
}

func TestValidatePrefersBitbucketToken(t *testing.T) {
	vars := validGCPVars()
	vars[KeyBitbucketOIDCToken] = "bitbucket-jwt"
	vars[KeyGenericOIDCToken] = "generic-jwt"

	env, err := Validate(domain.CloudGCP, vars)
	require.NoError(t, err)
	assert.Equal(t, "bitbucket-jwt", env.OIDCToken)
	assert.Equal(t, KeyBitbucketOIDCToken, env.OIDCSource)
}

func TestValidateFallsBackToGenericToken(t *testing.T) {
	vars := validAzureVars()
	delete(vars, KeyBitbucketOIDCToken)
	vars[KeyGenericOIDCToken] = "generic-jwt"

	env, err := Validate(domain.CloudAzure, vars)
	require.NoError(t, err)
	assert.Equal(t, "generic-jwt", env.OIDCToken)
	assert.Equal(t, KeyGenericOIDCToken, env.OIDCSource)
}

func TestValidateReportsMissingKeysBeforeTokenCheck(t *testing.T) {
	// A bare environment should complain about the schema, not the token.
	_, err := Validate(domain.CloudGCP, map[string]string{})
	require.Error(t, err)

	var missing *MissingVariablesError
	assert.ErrorAs(t, err, &missing)
	assert.False(t, errors.Is(err, ErrNoOIDCToken))
}

// =============================================================================
// Cloud Detection
// =============================================================================

func TestDetectCloud(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		want    domain.Cloud
		wantErr error
	}{
		{
			name: "explicit override",
			vars: map[string]string{KeyDeployCloud: "azure", KeyGCPProjectID: "p"},
			want: domain.CloudAzure,
		},
		{
			name:    "explicit override invalid",
			vars:    map[string]string{KeyDeployCloud: "aws"},
			wantErr: domain.ErrInvalidCloud,
		},
		{
			name: "gcp project present",
			vars: map[string]string{KeyGCPProjectID: "demo-project"},
			want: domain.CloudGCP,
		},
		{
			name: "azure subscription present",
			vars: map[string]string{KeyAzureSubscriptionID: "sub-id"},
			want: domain.CloudAzure,
		},
		{
			name: "gcp wins when both present",
			vars: map[string]string{KeyGCPProjectID: "p", KeyAzureSubscriptionID: "s"},
			want: domain.CloudGCP,
		},
		{
			name:    "nothing to detect from",
			vars:    map[string]string{},
			wantErr: domain.ErrCloudUndetectable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectCloud(tt.vars)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Derived Values
// =============================================================================

func TestStateBackendURL(t *testing.T) {
	gcp, err := Validate(domain.CloudGCP, validGCPVars())
	require.NoError(t, err)
	assert.Equal(t, "gs://demo-pulumi-state", gcp.StateBackendURL())

	azure, err := Validate(domain.CloudAzure, validAzureVars())
	require.NoError(t, err)
	assert.Equal(t, "azblob://state?storage_account=demostate", azure.StateBackendURL())
}

func TestWIFAudience(t *testing.T) {
	env, err := Validate(domain.CloudGCP, validGCPVars())
	require.NoError(t, err)
	assert.Equal(t,
		"//iam.googleapis.com/projects/123456789/locations/global/workloadIdentityPools/bitbucket-pool/providers/bitbucket-provider",
		env.GCP.WIFAudience())
}
