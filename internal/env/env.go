// Package env composes the environment handed to launched roles: the
// supervisor's own OS environment as the base, global overrides from the
// config, then per-role overrides, with simple ${VAR} expansion over the
// composed set.
package env

import (
	"os"
	"strings"
)

// Compose returns the final "K=V" slice for one role. Later layers win on
// duplicate keys; malformed entries (no '=' or empty key) are skipped.
func Compose(global, perRole []string) []string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		put(m, kv)
	}
	for _, kv := range global {
		put(m, kv)
	}
	for _, kv := range perRole {
		put(m, kv)
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func put(m map[string]string, kv string) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return
	}
	m[kv[:i]] = kv[i+1:]
}

// expand substitutes ${VAR} occurrences from the composed map. No
// recursion: one pass over the keys.
func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
