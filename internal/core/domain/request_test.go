package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaults(t *testing.T) {
	req := DeploymentRequest{
		Cloud:  CloudGCP,
		App:    "demo",
		Branch: "main",
	}

	got := req.WithDefaults(TargetFor(CloudGCP))
	assert.Equal(t, "512Mi", got.Memory)
	assert.Equal(t, "1", got.CPU)
	assert.Equal(t, 0, got.MinInstances)
	assert.Equal(t, 2, got.MaxInstances)
	assert.Equal(t, 8080, got.Port)
	assert.Equal(t, ".", got.Context)

	// The original request is untouched.
	assert.Empty(t, req.Memory)
	assert.Empty(t, req.Context)
}

func TestWithDefaultsKeepsOverrides(t *testing.T) {
	req := DeploymentRequest{
		Cloud:        CloudAzure,
		App:          "demo",
		Branch:       "main",
		Context:      "./svc",
		Memory:       "2.0Gi",
		CPU:          "1.0",
		MinInstances: 1,
		MaxInstances: 5,
		Port:         3000,
	}

	got := req.WithDefaults(TargetFor(CloudAzure))
	assert.Equal(t, "2.0Gi", got.Memory)
	assert.Equal(t, "1.0", got.CPU)
	assert.Equal(t, 1, got.MinInstances)
	assert.Equal(t, 5, got.MaxInstances)
	assert.Equal(t, 3000, got.Port)
	assert.Equal(t, "./svc", got.Context)
}

func TestRequestValidate(t *testing.T) {
	valid := DeploymentRequest{
		Cloud:  CloudGCP,
		App:    "demo",
		Branch: "feature/abc",
	}.WithDefaults(TargetFor(CloudGCP))
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*DeploymentRequest)
		wantErr error
		wantMsg string
	}{
		{
			name:    "empty app",
			mutate:  func(r *DeploymentRequest) { r.App = "" },
			wantErr: ErrAppNameRequired,
		},
		{
			name:    "empty branch",
			mutate:  func(r *DeploymentRequest) { r.Branch = "" },
			wantErr: ErrBranchRequired,
		},
		{
			name:    "port too large",
			mutate:  func(r *DeploymentRequest) { r.Port = 70000 },
			wantMsg: "out of range",
		},
		{
			name:    "negative min instances",
			mutate:  func(r *DeploymentRequest) { r.MinInstances = -1 },
			wantMsg: "must not be negative",
		},
		{
			name:    "zero max instances",
			mutate:  func(r *DeploymentRequest) { r.MaxInstances = 0 },
			wantMsg: "at least 1",
		},
		{
			name: "min exceeds max",
			mutate: func(r *DeploymentRequest) {
				r.MinInstances = 3
				r.MaxInstances = 2
			},
			wantMsg: "exceeds max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateAppName(t *testing.T) {
	assert.NoError(t, ValidateAppName("demo"))
	assert.NoError(t, ValidateAppName("demo-api-2"))

	assert.ErrorIs(t, ValidateAppName(""), ErrAppNameRequired)
	assert.ErrorIs(t, ValidateAppName("Demo"), ErrAppNameInvalid)
	assert.ErrorIs(t, ValidateAppName("2demo"), ErrAppNameInvalid)
	assert.ErrorIs(t, ValidateAppName("demo_api"), ErrAppNameInvalid)
	assert.ErrorIs(t, ValidateAppName(strings.Repeat("a", 31)), ErrAppNameTooLong)
}
