// Package environ validates the CI process environment for a deployment and
// turns it into typed configuration. This is part of the Functional Core -
// validation operates on a plain map snapshot, never on the live process
// environment.
package environ

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/sloanahrens/branchdeploy/internal/core/domain"
)

// =============================================================================
// Environment Variable Keys
// =============================================================================

// Keys shared by both clouds.
const (
	KeyDeployCloud      = "DEPLOY_CLOUD"
	KeyPulumiOrg        = "PULUMI_ORG"
	KeyPulumiPassphrase = "PULUMI_CONFIG_PASSPHRASE"

	// OIDC token sources. Bitbucket Pipelines injects the first when a step
	// declares `oidc: true`; the second is the generic fallback other CI
	// systems can set. When both are present the platform-native one wins.
	KeyBitbucketOIDCToken = "BITBUCKET_STEP_OIDC_TOKEN"
	KeyGenericOIDCToken   = "OIDC_TOKEN"
)

// GCP keys.
const (
	KeyGCPProjectID     = "GCP_PROJECT_ID"
	KeyGCPProjectNumber = "GCP_PROJECT_NUMBER"
	KeyGCPRegion        = "GCP_REGION"
	KeyGCPStateBucket   = "PULUMI_STATE_BUCKET"
	KeyGCPDeployerSA    = "GCP_DEPLOYER_SA_EMAIL"
	KeyGCPWIFPool       = "GCP_WIF_POOL_ID"
	KeyGCPWIFProvider   = "GCP_WIF_PROVIDER_ID"
)

// Azure keys.
const (
	KeyAzureClientID       = "ARM_CLIENT_ID"
	KeyAzureTenantID       = "ARM_TENANT_ID"
	KeyAzureSubscriptionID = "ARM_SUBSCRIPTION_ID"
	KeyAzureResourceGroup  = "AZURE_RESOURCE_GROUP"
	KeyAzureStorageAccount = "AZURE_STORAGE_ACCOUNT"
	KeyAzureLocation       = "AZURE_LOCATION"
)

// Defaults applied when the optional keys are unset.
const (
	DefaultOrg           = "organization"
	DefaultWIFPool       = "bitbucket-pool"
	DefaultWIFProvider   = "bitbucket-provider"
	DefaultAzureLocation = "eastus"
)

// requiredKeys lists the variables that must be non-empty before a pipeline
// may start, per cloud. Validation reports every missing key at once so a
// misconfigured CI repository is fixed in one round trip, not one variable
// per failed build.
var requiredKeys = map[domain.Cloud][]string{
	domain.CloudGCP: {
		KeyGCPProjectID,
		KeyGCPProjectNumber,
		KeyGCPRegion,
		KeyGCPStateBucket,
		KeyGCPDeployerSA,
		KeyPulumiPassphrase,
	},
	domain.CloudAzure: {
		KeyAzureClientID,
		KeyAzureTenantID,
		KeyAzureSubscriptionID,
		KeyAzureResourceGroup,
		KeyAzureStorageAccount,
		KeyPulumiPassphrase,
	},
}

// =============================================================================
// Error Types
// =============================================================================

// ErrNoOIDCToken is returned when neither OIDC token variable is set.
var ErrNoOIDCToken = fmt.Errorf(
	"no OIDC token in environment: set %s (Bitbucket Pipelines step with `oidc: true`) or %s",
	KeyBitbucketOIDCToken, KeyGenericOIDCToken,
)

// MissingVariablesError reports every required variable absent from the
// environment snapshot. Keys are sorted for stable output.
type MissingVariablesError struct {
	Cloud domain.Cloud
	Keys  []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("missing required environment variables for %s: %s",
		e.Cloud, strings.Join(e.Keys, ", "))
}

// SchemaError reports a variable that is present but malformed.
type SchemaError struct {
	Key    string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Key, e.Reason)
}

// =============================================================================
// Validated Environment
// =============================================================================

// GCPEnvironment holds the GCP-specific validated configuration.
type GCPEnvironment struct {
	ProjectID     string
	ProjectNumber string
	Region        string
	StateBucket   string
	DeployerEmail string
	WIFPoolID     string
	WIFProviderID string
}

// AzureEnvironment holds the Azure-specific validated configuration.
type AzureEnvironment struct {
	ClientID       string
	TenantID       string
	SubscriptionID string
	ResourceGroup  string
	StorageAccount string
	Location       string
}

// Environment is the validated, defaulted view of the CI environment for one
// cloud. Exactly one of GCP/Azure is populated, matching Cloud.
type Environment struct {
	Cloud      domain.Cloud
	Org        string
	Passphrase string

	// OIDCToken is the CI identity token used for the credential exchange;
	// OIDCSource names the variable it came from.
	OIDCToken  string
	OIDCSource string

	GCP   GCPEnvironment
	Azure AzureEnvironment
}

// StateBackendURL returns the Pulumi self-managed state backend for this
// environment: a GCS bucket on GCP, an Azure Blob container on Azure.
func (e *Environment) StateBackendURL() string {
	switch e.Cloud {
	case domain.CloudAzure:
		return fmt.Sprintf("azblob://state?storage_account=%s", e.Azure.StorageAccount)
	default:
		return fmt.Sprintf("gs://%s", e.GCP.StateBucket)
	}
}

// WIFAudience returns the full workload identity provider resource name used
// as the STS exchange audience.
func (g GCPEnvironment) WIFAudience() string {
	return fmt.Sprintf("//iam.googleapis.com/projects/%s/locations/global/workloadIdentityPools/%s/providers/%s",
		g.ProjectNumber, g.WIFPoolID, g.WIFProviderID)
}

// =============================================================================
// Validation
// =============================================================================

// DetectCloud determines the deployment target when no explicit --cloud flag
// was given: DEPLOY_CLOUD wins, then presence of the cloud-identifying
// project/subscription variables.
func DetectCloud(vars map[string]string) (domain.Cloud, error) {
	if v := vars[KeyDeployCloud]; v != "" {
		return domain.ParseCloud(v)
	}
	if vars[KeyGCPProjectID] != "" {
		return domain.CloudGCP, nil
	}
	if vars[KeyAzureSubscriptionID] != "" {
		return domain.CloudAzure, nil
	}
	return "", domain.ErrCloudUndetectable
}

// Validate checks the environment snapshot against the schema for cloud and
// returns the typed environment. Empty values count as missing. All missing
// required keys are reported together; format checks and the OIDC token check
// run only once the primary schema passes.
func Validate(cloud domain.Cloud, vars map[string]string) (*Environment, error) {
	if !cloud.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCloud, string(cloud))
	}

	var missing []string
	for _, key := range requiredKeys[cloud] {
		if vars[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingVariablesError{Cloud: cloud, Keys: missing}
	}

	env := &Environment{
		Cloud:      cloud,
		Org:        orDefault(vars[KeyPulumiOrg], DefaultOrg),
		Passphrase: vars[KeyPulumiPassphrase],
	}

	switch cloud {
	case domain.CloudGCP:
		email := vars[KeyGCPDeployerSA]
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, &SchemaError{
				Key:    KeyGCPDeployerSA,
				Reason: fmt.Sprintf("%q is not a service account email address", email),
			}
		}
		env.GCP = GCPEnvironment{
			ProjectID:     vars[KeyGCPProjectID],
			ProjectNumber: vars[KeyGCPProjectNumber],
			Region:        vars[KeyGCPRegion],
			StateBucket:   vars[KeyGCPStateBucket],
			DeployerEmail: email,
			WIFPoolID:     orDefault(vars[KeyGCPWIFPool], DefaultWIFPool),
			WIFProviderID: orDefault(vars[KeyGCPWIFProvider], DefaultWIFProvider),
		}
	case domain.CloudAzure:
		env.Azure = AzureEnvironment{
			ClientID:       vars[KeyAzureClientID],
			TenantID:       vars[KeyAzureTenantID],
			SubscriptionID: vars[KeyAzureSubscriptionID],
			ResourceGroup:  vars[KeyAzureResourceGroup],
			StorageAccount: vars[KeyAzureStorageAccount],
			Location:       orDefault(vars[KeyAzureLocation], DefaultAzureLocation),
		}
	}

	token, source, err := oidcToken(vars)
	if err != nil {
		return nil, err
	}
	env.OIDCToken = token
	env.OIDCSource = source

	return env, nil
}

// oidcToken picks the CI identity token, preferring the Bitbucket-native
// variable when both are set.
func oidcToken(vars map[string]string) (token, source string, err error) {
	if v := vars[KeyBitbucketOIDCToken]; v != "" {
		return v, KeyBitbucketOIDCToken, nil
	}
	if v := vars[KeyGenericOIDCToken]; v != "" {
		return v, KeyGenericOIDCToken, nil
	}
	return "", "", ErrNoOIDCToken
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
