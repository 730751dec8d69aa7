// Package secrets turns symbolic secret names into plaintext values at
// spawn time. Values travel to containers only inside the stdin payload,
// never through environment variables or logs.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Resolver resolves one symbolic secret name.
type Resolver interface {
	Resolve(name string) (string, error)
}

// ResolveAll resolves every name, failing on the first miss.
func ResolveAll(r Resolver, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	resolved := make(map[string]string, len(names))
	for _, name := range names {
		value, err := r.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("resolve secret %q: %w", name, err)
		}
		resolved[name] = value
	}
	return resolved, nil
}

// EnvResolver reads secrets from BURROW_SECRET_<NAME> environment variables.
type EnvResolver struct{}

func (EnvResolver) Resolve(name string) (string, error) {
	key := "BURROW_SECRET_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set", key)
	}
	return value, nil
}

// Static is a fixed-map resolver for tests and embedded deployments.
type Static map[string]string

func (s Static) Resolve(name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return value, nil
}
