// Package domain contains the core domain types for branch deployments.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Cloud Target Errors
// =============================================================================

var (
	ErrInvalidCloud = errors.New("invalid cloud target: must be gcp or azure")

	// ErrCloudUndetectable is returned when no --cloud flag was given and the
	// environment carries neither a GCP project nor an Azure subscription.
	ErrCloudUndetectable = errors.New("cannot detect cloud target: set --cloud, DEPLOY_CLOUD, GCP_PROJECT_ID, or ARM_SUBSCRIPTION_ID")
)

// =============================================================================
// Cloud Targets
// =============================================================================

// Cloud identifies one of the two supported deployment targets.
type Cloud string

const (
	CloudGCP   Cloud = "gcp"
	CloudAzure Cloud = "azure"
)

// IsValid checks if the cloud target is supported.
func (c Cloud) IsValid() bool {
	switch c {
	case CloudGCP, CloudAzure:
		return true
	default:
		return false
	}
}

// DisplayName returns a human-readable name for the cloud target.
func (c Cloud) DisplayName() string {
	switch c {
	case CloudGCP:
		return "Google Cloud Run"
	case CloudAzure:
		return "Azure Container Apps"
	default:
		return string(c)
	}
}

// ParseCloud parses a cloud target string as given on the command line.
func ParseCloud(s string) (Cloud, error) {
	c := Cloud(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCloud, s)
	}
	return c, nil
}

// =============================================================================
// Target Capability Set
// =============================================================================

// RegistryAuth selects how the container registry login is performed.
type RegistryAuth string

const (
	// RegistryAuthToken logs in with the exchanged access token as the
	// password over a fixed username sentinel (GCP Artifact Registry).
	RegistryAuthToken RegistryAuth = "token"

	// RegistryAuthNative delegates to the platform's own login command
	// (az acr login).
	RegistryAuthNative RegistryAuth = "native"
)

// Target is the capability set for one cloud, selected once at startup.
// Everything the pipeline branches on lives here, so the rest of the code
// stays a single polymorphic path.
type Target struct {
	Cloud Cloud

	// NameLimit caps the normalized branch-derived service name.
	// Cloud Run service names allow 63 characters, Container Apps 32.
	NameLimit int

	// RegistryAuth is the registry login strategy.
	RegistryAuth RegistryAuth

	// Default resource sizing applied when the request leaves a field unset.
	DefaultMemory       string
	DefaultCPU          string
	DefaultMinInstances int
	DefaultMaxInstances int
	DefaultPort         int
}

// TargetFor returns the capability set for a cloud target.
func TargetFor(cloud Cloud) Target {
	switch cloud {
	case CloudAzure:
		return Target{
			Cloud:               CloudAzure,
			NameLimit:           32,
			RegistryAuth:        RegistryAuthNative,
			DefaultMemory:       "1.0Gi",
			DefaultCPU:          "0.5",
			DefaultMinInstances: 0,
			DefaultMaxInstances: 2,
			DefaultPort:         8080,
		}
	default:
		return Target{
			Cloud:               CloudGCP,
			NameLimit:           63,
			RegistryAuth:        RegistryAuthToken,
			DefaultMemory:       "512Mi",
			DefaultCPU:          "1",
			DefaultMinInstances: 0,
			DefaultMaxInstances: 2,
			DefaultPort:         8080,
		}
	}
}
