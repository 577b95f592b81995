package api

import (
	"fmt"

	"modelmon/config"
)

// ProjectMembershipFlag is the project-membership feature mode.
type ProjectMembershipFlag string

const (
	ProjectMembershipEnabled  ProjectMembershipFlag = "enabled"
	ProjectMembershipDisabled ProjectMembershipFlag = "disabled"
)

// Valid reports whether f is a known membership mode.
func (f ProjectMembershipFlag) Valid() bool {
	return f == ProjectMembershipEnabled || f == ProjectMembershipDisabled
}

// AuthenticationFlag is the authentication mode exposed to the UI.
type AuthenticationFlag string

const (
	AuthenticationNone    AuthenticationFlag = "none"
	AuthenticationBasic   AuthenticationFlag = "basic"
	AuthenticationBearer  AuthenticationFlag = "bearer"
	AuthenticationIguazio AuthenticationFlag = "iguazio"
)

// Valid reports whether f is a known authentication mode.
func (f AuthenticationFlag) Valid() bool {
	switch f {
	case AuthenticationNone, AuthenticationBasic, AuthenticationBearer, AuthenticationIguazio:
		return true
	}
	return false
}

// FeatureFlags is the validated flag pair of the frontend spec.
type FeatureFlags struct {
	ProjectMembership ProjectMembershipFlag `json:"project_membership"`
	Authentication    AuthenticationFlag    `json:"authentication"`
}

// ResourceSpec holds optional string-encoded resource quantities.
type ResourceSpec struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	GPU    string `json:"gpu,omitempty"`
}

// Resources is a requests/limits pair.
type Resources struct {
	Requests ResourceSpec `json:"requests"`
	Limits   ResourceSpec `json:"limits"`
}

// FrontendSpec is the read-only configuration snapshot served to the
// management UI. It carries no state of its own; everything is
// assembled from the service configuration at startup.
type FrontendSpec struct {
	JobsDashboardURL       string       `json:"jobs_dashboard_url,omitempty"`
	AbortableFunctionKinds []string     `json:"abortable_function_kinds"`
	FeatureFlags           FeatureFlags `json:"feature_flags"`

	DefaultFunctionPriorityClassName string   `json:"default_function_priority_class_name,omitempty"`
	ValidFunctionPriorityClassNames  []string `json:"valid_function_priority_class_names"`

	DefaultFunctionImageByKind                            map[string]string `json:"default_function_image_by_kind"`
	FunctionDeploymentTargetImageTemplate                 string            `json:"function_deployment_target_image_template,omitempty"`
	FunctionDeploymentTargetImageNamePrefixTemplate       string            `json:"function_deployment_target_image_name_prefix_template"`
	FunctionDeploymentTargetImageRegistriesToEnforcePrefix []string         `json:"function_deployment_target_image_registries_to_enforce_prefix"`

	AutoMountType   string            `json:"auto_mount_type,omitempty"`
	AutoMountParams map[string]string `json:"auto_mount_params"`

	DefaultArtifactPath         string    `json:"default_artifact_path"`
	DefaultFunctionPodResources Resources `json:"default_function_pod_resources"`
}

// BuildFrontendSpec assembles and validates the spec from the API
// configuration. Unset feature flags fall back to disabled membership
// and no authentication.
func BuildFrontendSpec(cfg config.APIConfig) (*FrontendSpec, error) {
	membership := ProjectMembershipFlag(cfg.FeatureFlags.ProjectMembership)
	if membership == "" {
		membership = ProjectMembershipDisabled
	}
	if !membership.Valid() {
		return nil, fmt.Errorf("unknown project membership flag: %q", membership)
	}

	auth := AuthenticationFlag(cfg.FeatureFlags.Authentication)
	if auth == "" {
		auth = AuthenticationNone
	}
	if !auth.Valid() {
		return nil, fmt.Errorf("unknown authentication flag: %q", auth)
	}

	spec := &FrontendSpec{
		JobsDashboardURL:       cfg.JobsDashboardURL,
		AbortableFunctionKinds: emptyIfNil(cfg.AbortableFunctionKinds),
		FeatureFlags: FeatureFlags{
			ProjectMembership: membership,
			Authentication:    auth,
		},
		DefaultFunctionPriorityClassName: cfg.DefaultPriorityClassName,
		ValidFunctionPriorityClassNames:  emptyIfNil(cfg.ValidPriorityClassNames),

		DefaultFunctionImageByKind:                             emptyMapIfNil(cfg.DefaultImageByKind),
		FunctionDeploymentTargetImageTemplate:                  cfg.TargetImageTemplate,
		FunctionDeploymentTargetImageNamePrefixTemplate:        cfg.ImagePrefixTemplate,
		FunctionDeploymentTargetImageRegistriesToEnforcePrefix: emptyIfNil(cfg.EnforcedPrefixRegistries),

		AutoMountType:   cfg.AutoMountType,
		AutoMountParams: emptyMapIfNil(cfg.AutoMountParams),

		DefaultArtifactPath: cfg.DefaultArtifactPath,
		DefaultFunctionPodResources: Resources{
			Requests: ResourceSpec(cfg.DefaultPodResources.Requests),
			Limits:   ResourceSpec(cfg.DefaultPodResources.Limits),
		},
	}

	if cfg.DefaultPriorityClassName != "" && len(spec.ValidFunctionPriorityClassNames) > 0 {
		valid := false
		for _, name := range spec.ValidFunctionPriorityClassNames {
			if name == cfg.DefaultPriorityClassName {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("default priority class %q is not among the valid class names", cfg.DefaultPriorityClassName)
		}
	}

	return spec, nil
}

// emptyIfNil keeps list fields encoding as [] instead of null.
func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMapIfNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
