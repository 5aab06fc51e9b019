package ociadapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
)

// dockerConfig is the Docker/Podman credential config file format.
type dockerConfig struct {
	Auths map[string]dockerAuthEntry `json:"auths"`
}

// dockerAuthEntry holds a single registry credential.
type dockerAuthEntry struct {
	Auth string `json:"auth"` // base64(username:password)
}

// newAuthClient creates an auth.Client that resolves credentials from
// Docker/Podman config files, falling back to anonymous access. The
// registry operator's token (when present) is checked first via envToken.
func newAuthClient(envToken string) *auth.Client {
	return &auth.Client{
		Client: http.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			return resolveCredential(envToken, hostport)
		},
	}
}

// resolveCredential resolves registry credentials in priority order:
//  1. envToken, if set, used as a bearer token for every host.
//  2. Docker config at ~/.docker/config.json
//  3. Podman auth at $XDG_RUNTIME_DIR/containers/auth.json
//  4. Anonymous (empty credential)
func resolveCredential(envToken, hostport string) (auth.Credential, error) {
	if envToken != "" {
		return auth.Credential{RefreshToken: envToken}, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		dockerCfg := filepath.Join(home, ".docker", "config.json")
		if cred, ok := credentialFromFile(dockerCfg, hostport); ok {
			return cred, nil
		}
	}

	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		podmanAuth := filepath.Join(runtimeDir, "containers", "auth.json")
		if cred, ok := credentialFromFile(podmanAuth, hostport); ok {
			return cred, nil
		}
	}

	return auth.EmptyCredential, nil
}

// credentialFromFile reads a Docker/Podman config file and extracts
// credentials for the given registry host.
func credentialFromFile(path, hostport string) (auth.Credential, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return auth.EmptyCredential, false
	}
	return credentialFromJSON(data, hostport)
}

// credentialFromJSON extracts credentials for a specific host from a
// Docker-format config JSON.
func credentialFromJSON(data []byte, hostport string) (auth.Credential, bool) {
	var cfg dockerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return auth.EmptyCredential, false
	}

	entry, ok := cfg.Auths[hostport]
	if !ok {
		host := hostport
		if idx := strings.LastIndex(host, ":"); idx > 0 {
			host = host[:idx]
		}
		entry, ok = cfg.Auths[host]
	}
	if !ok {
		return auth.EmptyCredential, false
	}

	decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
	if err != nil {
		return auth.EmptyCredential, false
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return auth.EmptyCredential, false
	}

	return auth.Credential{Username: parts[0], Password: parts[1]}, true
}
