package statshard

import "strings"

// reserved characters collide with the wire format's field delimiters.
var reserved = strings.NewReplacer(":", "_", "|", "_", "@", "_")

// sanitizeStat normalizes a stat identifier into a wire-safe token. Scope
// separators from structured identifiers ("A::B::C") become dots, then any
// remaining delimiter characters become underscores.
func sanitizeStat(stat string) string {
	stat = strings.ReplaceAll(stat, "::", ".")
	return reserved.Replace(stat)
}
