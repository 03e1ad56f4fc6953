package procutil

import (
	"os"
	"strings"
)

// BuildEnv merges the current process environment with extra key-value pairs.
// Extra vars override existing entries with the same key.
func BuildEnv(extra map[string]string) []string {
	return mergeEnv(os.Environ(), extra)
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(extra))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, ok := extra[key]; ok {
			continue // replaced below
		}
		env = append(env, entry)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
