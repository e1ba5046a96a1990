package security

import (
	"maps"
	"os"
	"slices"
	"strings"
)

// sensitiveEnvPrefixes are environment variable prefixes that are stripped
// from the environment of stdio tool servers.
var sensitiveEnvPrefixes = []string{
	"OPENAI_",
	"ANTHROPIC_",
	"AWS_SECRET",
	"AWS_SESSION_TOKEN",
	"SLACK_TOKEN",
	"SLACK_BOT_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"GITLAB_TOKEN",
	"SMTP_PASSWORD",
	"SKILLGATE_",
}

// sensitiveEnvExact are environment variable names that are stripped exactly.
// DATABASE_URL and DB_PASSWORD are exact-only so DB_PORT or DATABASE_HOST survive.
var sensitiveEnvExact = map[string]struct{}{
	"AWS_SECRET_ACCESS_KEY": {},
	"DATABASE_URL":          {},
	"DB_PASSWORD":           {},
	"REDIS_PASSWORD":        {},
}

// SanitizedEnv builds the environment for a spawned tool server: the
// process environment minus sensitive variables, with any of the given
// secret values masked, followed by the explicit extra variables in key
// order. Extra variables are passed through untouched because the owner
// configured them for that server.
func SanitizedEnv(extra map[string]string, secrets []string) []string {
	env := os.Environ()
	result := make([]string, 0, len(env)+len(extra))

	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if isSensitiveEnvVar(key) {
			continue
		}
		if _, overridden := extra[key]; overridden {
			continue
		}
		result = append(result, maskSecrets(entry, secrets))
	}

	for _, key := range slices.Sorted(maps.Keys(extra)) {
		result = append(result, key+"="+extra[key])
	}
	return result
}

// maskSecrets replaces secret values of at least 8 characters; shorter
// values ("yes", "1") would mangle unrelated variables.
func maskSecrets(entry string, secrets []string) string {
	for _, secret := range secrets {
		if len(secret) >= 8 && strings.Contains(entry, secret) {
			entry = strings.ReplaceAll(entry, secret, RedactPlaceholder)
		}
	}
	return entry
}

// isSensitiveEnvVar checks if an environment variable name matches
// a known sensitive prefix or exact name.
func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)

	if _, ok := sensitiveEnvExact[upper]; ok {
		return true
	}

	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}

	return false
}
