package shell

import "strings"

// maskVisible is how many leading characters of a secret survive masking.
const maskVisible = 4

// Mask hides all but the first few characters of a secret. Short secrets
// are hidden entirely.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= maskVisible*2 {
		return "****"
	}
	return secret[:maskVisible] + "****"
}

// Redact replaces every occurrence of each secret in text with its masked
// form. Empty secrets are ignored. The quoted form of a secret is also
// replaced, since secrets usually appear inside Quote output.
func Redact(text string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		if q := Quote(s); q != "'"+s+"'" {
			text = strings.ReplaceAll(text, q, Quote(Mask(s)))
		}
		text = strings.ReplaceAll(text, s, Mask(s))
	}
	return text
}
