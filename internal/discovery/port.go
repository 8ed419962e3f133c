package discovery

import "strings"

// ResolvePort resolves a service's metrics port from two competing signals.
// Precedence is fixed: a port label on the service always wins, taken as-is.
// Otherwise exactly one environment entry of the form envKey=VALUE must
// exist; VALUE may be a comma-separated port list (the convention used by
// registrator-style announcers) and the first element is taken. More than
// one matching entry yields no port rather than an error. An empty resolved
// value also counts as no port, so a target never loses its port half.
func ResolvePort(serviceLabels map[string]string, env []string, labelKey, envKey string) (string, bool) {
	if port, ok := serviceLabels[labelKey]; ok {
		return port, port != ""
	}

	values := envValues(env, envKey)
	if len(values) != 1 {
		return "", false
	}

	port, _, _ := strings.Cut(values[0], ",")

	return port, port != ""
}

// envValues returns the values of every env entry whose key equals envKey.
// Entries are KEY=VALUE strings straight from the container spec.
func envValues(env []string, envKey string) []string {
	prefix := envKey + "="

	var values []string

	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			values = append(values, entry[len(prefix):])
		}
	}

	return values
}

// envValue returns the value of the first env entry with the given key.
func envValue(env []string, envKey string) (string, bool) {
	prefix := envKey + "="

	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			return entry[len(prefix):], true
		}
	}

	return "", false
}
