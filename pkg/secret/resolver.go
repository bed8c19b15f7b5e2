// Package secret implements the pluggable secret resolver contract: a
// single resolve(reference) operation, plus a pure configuration walker
// that replaces {{secrets.name.field}} tokens with resolved values. The
// walker takes a config value and a resolver and returns a new config,
// leaving the original untouched, and bounds recursion depth against
// cyclic configuration shapes.
package secret

import (
	"fmt"
	"regexp"

	"github.com/flowcore/dagflow/pkg/engineerr"
)

// Resolver answers a secret reference of the form "name.field" with its
// value. A missing secret should return an error; the walker wraps it into
// a SecretResolutionError.
type Resolver interface {
	Resolve(name, field string) (string, error)
}

var tokenPattern = regexp.MustCompile(`\{\{\s*secrets\.([A-Za-z0-9_-]+)\.([A-Za-z0-9_-]+)\s*\}\}`)

// DefaultMaxDepth bounds recursion through nested maps/slices with a
// configurable limit.
const DefaultMaxDepth = 8

// Walk returns a new config with every {{secrets.<name>.<field>}} token in
// string-typed leaves replaced by resolver's answer. node names the owning
// node for error attribution. maxDepth caps recursion through nested
// maps/slices; pass DefaultMaxDepth when unsure.
func Walk(node string, config map[string]interface{}, resolver Resolver, maxDepth int) (map[string]interface{}, error) {
	if resolver == nil {
		return config, nil
	}
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		resolved, err := walkValue(node, v, resolver, maxDepth)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func walkValue(node string, v interface{}, resolver Resolver, depth int) (interface{}, error) {
	if depth <= 0 {
		return v, nil
	}
	switch val := v.(type) {
	case string:
		return resolveString(node, val, resolver)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			resolved, err := walkValue(node, sub, resolver, depth-1)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			resolved, err := walkValue(node, sub, resolver, depth-1)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(node, s string, resolver Resolver) (string, error) {
	var firstErr error
	replaced := tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		if firstErr != nil {
			return token
		}
		m := tokenPattern.FindStringSubmatch(token)
		name, field := m[1], m[2]
		value, err := resolver.Resolve(name, field)
		if err != nil {
			firstErr = engineerr.SecretResolutionError(node, token, err)
			return token
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return replaced, nil
}

// MapResolver resolves secrets from an in-process map keyed by
// "name.field", for tests and local examples.
type MapResolver map[string]string

func (r MapResolver) Resolve(name, field string) (string, error) {
	key := name + "." + field
	v, ok := r[key]
	if !ok {
		return "", fmt.Errorf("secret: no value for %s", key)
	}
	return v, nil
}
