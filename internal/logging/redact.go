package logging

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	secretKeyPattern   = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:` + strings.Join(secretKeyFragments, "|") + `)[A-Z0-9_]*)\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
	secretKeyName      = regexp.MustCompile(`(?i)(` + strings.Join(secretKeyFragments, "|") + `)`)
)

var secretKeyFragments = []string{
	"PASSWORD",
	"PASSWD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
	"ACCESS_KEY",
	"PRIVATE_KEY",
	"CREDENTIALS",
}

// RedactSecrets masks ${VAR} template references and the values of
// secret-looking KEY=value assignments in message.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := templateVarPattern.ReplaceAllStringFunc(message, func(string) string {
		return "${" + redactedPlaceholder + "}"
	})
	return secretKeyPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
}

// IsSecretKey reports whether an environment variable name looks like it
// holds a credential.
func IsSecretKey(key string) bool {
	return secretKeyName.MatchString(key)
}

// RedactEnvValue returns value, or the redaction marker when key looks secret.
func RedactEnvValue(key, value string) string {
	if IsSecretKey(key) {
		return redactedPlaceholder
	}
	return value
}
