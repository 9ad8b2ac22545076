package session

import (
	"strings"
	"time"
)

// nameTimeLayout gives minute resolution: MMDDhhmm.
const nameTimeLayout = "01021504"

// NamePattern matches session names produced by Name.
const NamePattern = `_[0-9]{8}$`

// defaultToken names sessions when the caller supplies none.
const defaultToken = "sweep"

// Name derives a session name from a caller token and a timestamp:
// "<short token>_<MMDDhhmm>". Two calls with the same token in the same
// minute produce the same name.
func Name(token string, at time.Time) string {
	return ShortToken(token) + "_" + at.Format(nameTimeLayout)
}

// ShortToken keeps the last "/" segment of token (so "team/proj/abc123"
// becomes "abc123") and replaces every character outside [A-Za-z0-9_-]
// with "-". tmux rejects "." and ":" in session names.
func ShortToken(token string) string {
	token = strings.TrimSpace(token)
	token = strings.TrimRight(token, "/")
	if i := strings.LastIndex(token, "/"); i >= 0 {
		token = token[i+1:]
	}
	token = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, token)
	if token == "" {
		return defaultToken
	}
	return token
}
