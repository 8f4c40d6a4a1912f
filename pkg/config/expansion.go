package config

import (
	"os"
	"regexp"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:default} references in raw config
// bytes before parsing. A reference with no value and no default expands to
// the empty string.
func ExpandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envVarPattern.FindSubmatch(match)
		name := string(groups[1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(escapeJSONString(val))
		}
		return []byte(escapeJSONString(string(groups[2])))
	})
}

// escapeJSONString keeps expanded values valid inside JSON string literals.
func escapeJSONString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return replacer.Replace(s)
}
