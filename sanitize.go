package relay

import "strings"

var segmentReplacer = strings.NewReplacer(".", "_", "=", "_", ",", "_", `"`, "_")

// SanitizeSegment makes a single key safe to use as one component of a dotted metric path.
func SanitizeSegment(segment string) string {
	return segmentReplacer.Replace(segment)
}
