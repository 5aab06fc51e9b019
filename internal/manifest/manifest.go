// Package manifest parses and validates the project environment manifest
// (env.toml / env.json / env.yaml) into the shared models.Manifest shape.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/env-architect/architect/internal/capability"
	"github.com/env-architect/architect/pkg/models"
)

// DiscoveryNames are the accepted manifest filenames, in the precedence
// order spec §6 defines: env.toml → env.json → env.yaml → env.yml.
var DiscoveryNames = []string{"env.toml", "env.json", "env.yaml", "env.yml"}

// Discover finds the first manifest present in dir per the discovery
// precedence.
func Discover(dir string) (string, error) {
	for _, name := range DiscoveryNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no manifest found in %s (looked for %v)", dir, DiscoveryNames)
}

// FindProjectRoot walks up from dir looking for a manifest, mirroring the
// shim dispatcher's root-discovery walk (spec §4.8).
func FindProjectRoot(dir string) (string, error) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	for {
		if _, err := Discover(current); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no project root found above %s", dir)
		}
		current = parent
	}
}

// Parse reads and decodes the manifest at path, selecting a decoder by
// file extension.
func Parse(path string) (*models.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode decodes manifest bytes given a file extension (".toml", ".json",
// ".yaml", or ".yml").
func Decode(data []byte, ext string) (*models.Manifest, error) {
	var m models.Manifest
	var err error
	switch ext {
	case ".toml":
		err = toml.Unmarshal(data, &m)
	case ".json":
		err = json.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode serializes a manifest back to the given extension's format, used
// by the manifest round-trip property (spec §8).
func Encode(m *models.Manifest, ext string) ([]byte, error) {
	switch ext {
	case ".toml":
		return toml.Marshal(m)
	case ".json":
		return json.MarshalIndent(m, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(m)
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q", ext)
	}
}

// Validate enforces the manifest invariants from spec §3: project.version
// parses as SemVer, every dependency requirement parses as a SemVer range
// (or is the literal "*"), every capability names a known kind, and every
// profile references an existing bucket or group.
func Validate(m *models.Manifest) error {
	if m.Project.Name == "" {
		return fmt.Errorf("invalid manifest: project.name is required")
	}
	if _, err := semver.NewVersion(m.Project.Version); err != nil {
		return fmt.Errorf("invalid manifest: project.version %q is not valid SemVer: %w", m.Project.Version, err)
	}

	for _, bucket := range []models.DependencySet{m.Dependencies, m.DevDependencies, m.TestDependencies, m.BuildDependencies} {
		if err := validateRequirements(bucket); err != nil {
			return err
		}
	}
	for groupName, deps := range m.Group {
		if err := validateRequirements(deps); err != nil {
			return fmt.Errorf("group %q: %w", groupName, err)
		}
	}
	for targetName, deps := range m.Target {
		if err := validateRequirements(deps); err != nil {
			return fmt.Errorf("target %q: %w", targetName, err)
		}
	}

	if m.Capabilities != nil {
		raw, err := json.Marshal(m.Capabilities)
		if err != nil {
			return fmt.Errorf("invalid manifest: re-encode capabilities: %w", err)
		}
		if _, err := capability.Parse(raw); err != nil {
			return fmt.Errorf("invalid manifest: capabilities: %w", err)
		}
	}

	buckets := map[string]bool{
		string(models.BucketRuntime): true, string(models.BucketDev): true,
		string(models.BucketTest): true, string(models.BucketBuild): true,
	}
	for name := range m.Group {
		buckets[name] = true
	}
	for profileName, profile := range m.Profiles {
		for _, ref := range profile.Dependencies {
			if !buckets[ref] {
				return fmt.Errorf("invalid manifest: profile %q references unknown bucket/group %q", profileName, ref)
			}
		}
	}

	return nil
}

func validateRequirements(deps models.DependencySet) error {
	for name, req := range deps {
		if req.Version == "*" || req.Version == "" {
			continue
		}
		if _, err := semver.NewConstraint(req.Version); err != nil {
			return fmt.Errorf("invalid manifest: dependency %q has invalid version requirement %q: %w", name, req.Version, err)
		}
	}
	return nil
}

// Dependencies flattens a bucket (by name: "dependencies", "dev-dependencies",
// "test-dependencies", "build-dependencies", or a named group) into the
// set the resolver consumes.
func Dependencies(m *models.Manifest, bucket string) (models.DependencySet, error) {
	switch models.Bucket(bucket) {
	case models.BucketRuntime:
		return m.Dependencies, nil
	case models.BucketDev:
		return m.DevDependencies, nil
	case models.BucketTest:
		return m.TestDependencies, nil
	case models.BucketBuild:
		return m.BuildDependencies, nil
	}
	if deps, ok := m.Group[bucket]; ok {
		return deps, nil
	}
	return nil, fmt.Errorf("unknown dependency bucket or group %q", bucket)
}

// Capabilities parses the manifest's capabilities block into a
// capability.Set.
func Capabilities(m *models.Manifest) (*capability.Set, error) {
	if m.Capabilities == nil {
		return capability.NewSet(nil), nil
	}
	raw, err := json.Marshal(m.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("re-encode capabilities: %w", err)
	}
	return capability.Parse(raw)
}
