// Package policy enforces the --enable-commands allowlist. Agent harnesses
// use it to pin a session to a subset of the command tree, typically to keep
// read-only sessions away from trade submit.
package policy

import (
	"strings"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

// CheckCommandAllowed returns nil when commandPath is covered by the
// allowlist. An empty allowlist permits everything. Entries match whole
// command paths or command groups, so "trade" covers both "trade build"
// and "trade submit".
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	path := canonical(commandPath)
	for _, entry := range allowlist {
		allowed := canonical(entry)
		if allowed == path || strings.HasPrefix(path, allowed+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// canonical lowercases and collapses whitespace so "Trade  Build" and
// "trade build" compare equal.
func canonical(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
