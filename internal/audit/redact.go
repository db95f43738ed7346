package audit

import "strings"

// redactedValue replaces metadata values whose keys suggest secrets.
const redactedValue = "[REDACTED]"

// sensitiveKeyFragments flags metadata keys that commonly carry credentials.
// Matching is case-insensitive on key substrings.
var sensitiveKeyFragments = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
}

// RedactMetadata returns a copy of metadata with likely-sensitive values
// replaced, so a leaked audit trail never doubles as a credential store.
// Nested maps are redacted recursively. The input map is not modified.
func RedactMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactMetadata(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
