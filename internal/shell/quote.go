// Package shell composes POSIX shell command lines from untrusted parts.
//
// Every string that ends up inside a command typed into a remote shell
// (host-side paths, session names, device ids, environment values, the
// worker command itself) goes through Quote. Nothing else in the module
// builds quoted arguments by hand.
package shell

import (
	"strings"
)

// Quote returns s as a single POSIX shell word.
//
// The result is wrapped in single quotes; an embedded single quote closes
// the quoted run, emits a double-quoted literal quote, and reopens it
// ('"'"'). The empty string quotes to ''.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// QuoteAll quotes each element and joins them with single spaces.
func QuoteAll(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Join chains commands with "&&", skipping empty entries.
func Join(cmds ...string) string {
	parts := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if strings.TrimSpace(c) == "" {
			continue
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, " && ")
}

// Export returns "export NAME='value'". The name must satisfy ValidEnvName;
// callers validate it before composing.
func Export(name, value string) string {
	return "export " + name + "=" + Quote(value)
}

// Assign returns "NAME='value'", a command-scoped assignment prefix.
func Assign(name, value string) string {
	return name + "=" + Quote(value)
}

// ValidEnvName reports whether name is a portable environment variable
// identifier: a letter or underscore followed by letters, digits or
// underscores.
func ValidEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// PrependPath returns an export that puts dirs in front of $PATH.
//
// A leading "~/" or "$HOME/" is expanded by the target shell; the rest of
// each directory is quoted. "~/.local/bin" becomes "$HOME"'/.local/bin'.
func PrependPath(dirs ...string) string {
	if len(dirs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(dirs)+1)
	for _, d := range dirs {
		parts = append(parts, homeRelative(d))
	}
	parts = append(parts, `"$PATH"`)
	return "export PATH=" + strings.Join(parts, ":")
}

func homeRelative(dir string) string {
	for _, prefix := range []string{"~/", "$HOME/", "${HOME}/"} {
		if rest, ok := strings.CutPrefix(dir, prefix); ok {
			return `"$HOME"` + Quote("/"+rest)
		}
	}
	return Quote(dir)
}
