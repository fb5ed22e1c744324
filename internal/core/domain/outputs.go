package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Shared Infrastructure Outputs
// =============================================================================

var ErrRegistryURLMissing = errors.New("shared stack did not export a registry URL")

// InfraOutputs is the record read fresh from the shared infrastructure stack
// on every run. It is never cached across invocations.
type InfraOutputs struct {
	// RegistryURL is the container registry path prefix images are pushed
	// under, e.g. "us-central1-docker.pkg.dev/my-project/apps" or
	// "myacr.azurecr.io".
	RegistryURL string

	// GCP fields.
	ProjectID string
	Region    string

	// Azure fields.
	ResourceGroup string
	EnvironmentID string
}

// Validate checks that the shared stack exported everything the given cloud
// needs before any image is built against it.
func (o InfraOutputs) Validate(cloud Cloud) error {
	if o.RegistryURL == "" {
		return ErrRegistryURLMissing
	}
	switch cloud {
	case CloudGCP:
		if o.ProjectID == "" || o.Region == "" {
			return fmt.Errorf("shared stack outputs incomplete: projectId=%q region=%q", o.ProjectID, o.Region)
		}
	case CloudAzure:
		if o.ResourceGroup == "" || o.EnvironmentID == "" {
			return fmt.Errorf("shared stack outputs incomplete: resourceGroupName=%q environmentId=%q", o.ResourceGroup, o.EnvironmentID)
		}
	}
	return nil
}

// =============================================================================
// Deploy Result
// =============================================================================

// DeployResult is what a successful deploy hands back to the CI job.
type DeployResult struct {
	URL         string
	ServiceName string
}
