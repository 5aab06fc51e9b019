// Package models defines the registry and manifest domain records shared
// across the trust pipeline, resolver, and HTTP surface.
package models

import "time"

// Project describes the declaring package's own identity within a manifest.
type Project struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Version     string   `json:"version" yaml:"version" toml:"version"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Authors     []string `json:"authors,omitempty" yaml:"authors,omitempty" toml:"authors,omitempty"`
	License     string   `json:"license,omitempty" yaml:"license,omitempty" toml:"license,omitempty"`
	Repository  string   `json:"repository,omitempty" yaml:"repository,omitempty" toml:"repository,omitempty"`
}

// Platform constrains which operating systems and architectures a manifest
// targets.
type Platform struct {
	OS        []string `json:"os,omitempty" yaml:"os,omitempty" toml:"os,omitempty"`
	Arch      []string `json:"arch,omitempty" yaml:"arch,omitempty" toml:"arch,omitempty"`
	MinOSVers string   `json:"minOsVersion,omitempty" yaml:"minOsVersion,omitempty" toml:"min-os-version,omitempty"`
}

// Requirement is one dependency entry. It accepts either a bare version
// requirement string or a detailed record; Manifest parsing normalizes both
// shapes into this struct.
type Requirement struct {
	Version        string `json:"version" yaml:"version" toml:"version"`
	PackageManager string `json:"packageManager,omitempty" yaml:"packageManager,omitempty" toml:"package-manager,omitempty"`
	Source         string `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	Optional       bool   `json:"optional,omitempty" yaml:"optional,omitempty" toml:"optional,omitempty"`
}

// DependencySet maps a package name to its requirement within one bucket.
type DependencySet map[string]Requirement

// Profile is a named overlay selecting dependency buckets/groups and
// environment variables.
type Profile struct {
	Name         string            `json:"name" yaml:"name" toml:"name"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
}

// Hook is a pre/post lifecycle shell fragment.
type Hook struct {
	Stage   string `json:"stage" yaml:"stage" toml:"stage"`
	Command string `json:"command" yaml:"command" toml:"command"`
}

// Service is a background-process definition with a restart policy.
type Service struct {
	Name          string   `json:"name" yaml:"name" toml:"name"`
	Command       string   `json:"command" yaml:"command" toml:"command"`
	Args          []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	RestartPolicy string   `json:"restartPolicy,omitempty" yaml:"restartPolicy,omitempty" toml:"restart-policy,omitempty"`
}

// Asset names an out-of-band payload fetched by URL and verified by
// checksum.
type Asset struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	URL      string `json:"url" yaml:"url" toml:"url"`
	Checksum string `json:"checksum" yaml:"checksum" toml:"checksum"`
}

// IntelligenceAction is one proposed resolution action emitted by a plugin.
type IntelligenceAction string

const (
	ActionManagedInstall IntelligenceAction = "managed-install"
	ActionAutoShim       IntelligenceAction = "auto-shim"
	ActionConfigUpdate   IntelligenceAction = "config-update"
	ActionManualPrompt   IntelligenceAction = "manual-prompt"
)

// Intelligence is the manifest's block of plugin-proposed resolution
// actions.
type Intelligence struct {
	Actions []IntelligenceAction `json:"actions,omitempty" yaml:"actions,omitempty" toml:"actions,omitempty"`
	Notes   string                `json:"notes,omitempty" yaml:"notes,omitempty" toml:"notes,omitempty"`
}

// Manifest is the declarative project state: the env.toml/json/yaml
// document. Dependency buckets, profiles, hooks, services, capabilities,
// assets, and the intelligence block are all first-class top-level keys.
type Manifest struct {
	Project            Project                  `json:"project" yaml:"project" toml:"project"`
	Platform           Platform                 `json:"platform,omitempty" yaml:"platform,omitempty" toml:"platform,omitempty"`
	Dependencies       DependencySet            `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`
	DevDependencies    DependencySet            `json:"dev-dependencies,omitempty" yaml:"dev-dependencies,omitempty" toml:"dev-dependencies,omitempty"`
	TestDependencies   DependencySet            `json:"test-dependencies,omitempty" yaml:"test-dependencies,omitempty" toml:"test-dependencies,omitempty"`
	BuildDependencies  DependencySet            `json:"build-dependencies,omitempty" yaml:"build-dependencies,omitempty" toml:"build-dependencies,omitempty"`
	Target             map[string]DependencySet `json:"target,omitempty" yaml:"target,omitempty" toml:"target,omitempty"`
	Group              map[string]DependencySet `json:"group,omitempty" yaml:"group,omitempty" toml:"group,omitempty"`
	Profiles           map[string]Profile       `json:"profiles,omitempty" yaml:"profiles,omitempty" toml:"profiles,omitempty"`
	Hooks              []Hook                   `json:"hooks,omitempty" yaml:"hooks,omitempty" toml:"hooks,omitempty"`
	Env                map[string]string        `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Scripts            map[string]string        `json:"scripts,omitempty" yaml:"scripts,omitempty" toml:"scripts,omitempty"`
	Extras             map[string]any           `json:"extras,omitempty" yaml:"extras,omitempty" toml:"extras,omitempty"`
	Lockfile           string                   `json:"lockfile,omitempty" yaml:"lockfile,omitempty" toml:"lockfile,omitempty"`
	Cache              string                   `json:"cache,omitempty" yaml:"cache,omitempty" toml:"cache,omitempty"`
	Services           []Service                `json:"services,omitempty" yaml:"services,omitempty" toml:"services,omitempty"`
	Conflicts          []string                 `json:"conflicts,omitempty" yaml:"conflicts,omitempty" toml:"conflicts,omitempty"`
	Capabilities       any                      `json:"capabilities,omitempty" yaml:"capabilities,omitempty" toml:"capabilities,omitempty"`
	Assets             []Asset                  `json:"assets,omitempty" yaml:"assets,omitempty" toml:"assets,omitempty"`
	Intelligence       *Intelligence            `json:"intelligence,omitempty" yaml:"intelligence,omitempty" toml:"intelligence,omitempty"`
}

// Bucket identifies one of the manifest's dependency buckets.
type Bucket string

const (
	BucketRuntime Bucket = "dependencies"
	BucketDev     Bucket = "dev-dependencies"
	BucketTest    Bucket = "test-dependencies"
	BucketBuild   Bucket = "build-dependencies"
)

// ResolutionContext is the input a plugin receives to resolve or install a
// manifest.
type ResolutionContext struct {
	TargetOS          string            `json:"targetOs"`
	TargetArch        string            `json:"targetArch"`
	ProjectRoot       string            `json:"projectRoot"`
	Env               map[string]string `json:"env"`
	AllowedCaps       []string          `json:"allowedCapabilities"`
	ParentManifest    *Manifest         `json:"parentManifest,omitempty"`
	DiscoveredTools   map[string][]string `json:"discoveredTools"`
}

// InstallInstruction is one shell-command step of an InstallPlan.
type InstallInstruction struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// InstallPlan is the plugin's resolve() output: a resolved manifest plus an
// ordered list of instructions and an opaque state string forwarded from
// resolve into install.
type InstallPlan struct {
	Manifest     *Manifest             `json:"manifest"`
	Instructions []InstallInstruction  `json:"instructions"`
	State        string                `json:"state,omitempty"`
}
