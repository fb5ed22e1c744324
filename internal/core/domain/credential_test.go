package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialEnvStrings(t *testing.T) {
	cred := NewCredential(CloudAzure, map[string]string{
		"ARM_USE_OIDC":   "true",
		"ARM_CLIENT_ID":  "client",
		"ARM_OIDC_TOKEN": "jwt",
	})

	assert.Equal(t, []string{
		"ARM_CLIENT_ID=client",
		"ARM_OIDC_TOKEN=jwt",
		"ARM_USE_OIDC=true",
	}, cred.EnvStrings())
}

func TestCredentialCopiesInput(t *testing.T) {
	vars := map[string]string{"GOOGLE_OAUTH_ACCESS_TOKEN": "tok"}
	cred := NewCredential(CloudGCP, vars)
	vars["GOOGLE_OAUTH_ACCESS_TOKEN"] = "mutated"

	assert.Equal(t, "tok", cred.Value("GOOGLE_OAUTH_ACCESS_TOKEN"))
}

func TestCredentialNeverRendersValues(t *testing.T) {
	cred := NewCredential(CloudGCP, map[string]string{
		"GOOGLE_OAUTH_ACCESS_TOKEN": "super-secret-token",
	})

	rendered := fmt.Sprintf("%v %s %+v", cred, cred, cred.LogValue())
	assert.NotContains(t, rendered, "super-secret-token")
	assert.Contains(t, cred.String(), "GOOGLE_OAUTH_ACCESS_TOKEN")
}

func TestInfraOutputsValidate(t *testing.T) {
	gcp := InfraOutputs{RegistryURL: "us-docker.pkg.dev/p/apps", ProjectID: "p", Region: "us-central1"}
	assert.NoError(t, gcp.Validate(CloudGCP))

	azure := InfraOutputs{RegistryURL: "acr.azurecr.io", ResourceGroup: "rg", EnvironmentID: "/envs/x"}
	assert.NoError(t, azure.Validate(CloudAzure))

	assert.ErrorIs(t, InfraOutputs{}.Validate(CloudGCP), ErrRegistryURLMissing)

	incomplete := InfraOutputs{RegistryURL: "acr.azurecr.io"}
	assert.Error(t, incomplete.Validate(CloudAzure))
	assert.Error(t, InfraOutputs{RegistryURL: "r", ProjectID: "p"}.Validate(CloudGCP))
}
