package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmon/config"
)

func TestBuildFrontendSpecDefaults(t *testing.T) {
	spec, err := BuildFrontendSpec(config.APIConfig{Port: 8080, DefaultArtifactPath: "/artifacts"})
	require.NoError(t, err)

	// Unset flags fall back to the closed defaults.
	assert.Equal(t, ProjectMembershipDisabled, spec.FeatureFlags.ProjectMembership)
	assert.Equal(t, AuthenticationNone, spec.FeatureFlags.Authentication)
	assert.Equal(t, "/artifacts", spec.DefaultArtifactPath)

	// Lists encode as [] rather than null.
	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"abortable_function_kinds":[]`)
	assert.Contains(t, string(raw), `"valid_function_priority_class_names":[]`)
	assert.NotContains(t, string(raw), "null")
}

func TestBuildFrontendSpecRejectsUnknownFlags(t *testing.T) {
	_, err := BuildFrontendSpec(config.APIConfig{
		FeatureFlags: config.FeatureFlagsConfig{ProjectMembership: "maybe"},
	})
	assert.Error(t, err)

	_, err = BuildFrontendSpec(config.APIConfig{
		FeatureFlags: config.FeatureFlagsConfig{Authentication: "oauth2"},
	})
	assert.Error(t, err)
}

func TestBuildFrontendSpecValidatesPriorityClass(t *testing.T) {
	cfg := config.APIConfig{
		DefaultPriorityClassName: "critical",
		ValidPriorityClassNames:  []string{"low", "high"},
	}
	_, err := BuildFrontendSpec(cfg)
	assert.Error(t, err)

	cfg.ValidPriorityClassNames = []string{"low", "critical"}
	spec, err := BuildFrontendSpec(cfg)
	require.NoError(t, err)
	assert.Equal(t, "critical", spec.DefaultFunctionPriorityClassName)
}

func TestFrontendSpecResources(t *testing.T) {
	spec, err := BuildFrontendSpec(config.APIConfig{
		DefaultPodResources: config.ResourcesConfig{
			Requests: config.ResourceSpecConfig{CPU: "25m", Memory: "1Mi"},
			Limits:   config.ResourceSpecConfig{CPU: "2", Memory: "20Gi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "25m", spec.DefaultFunctionPodResources.Requests.CPU)
	assert.Equal(t, "20Gi", spec.DefaultFunctionPodResources.Limits.Memory)

	var flags FeatureFlags
	require.NoError(t, json.Unmarshal([]byte(`{"project_membership": "enabled", "authentication": "iguazio"}`), &flags))
	assert.True(t, flags.ProjectMembership.Valid())
	assert.True(t, flags.Authentication.Valid())
}
