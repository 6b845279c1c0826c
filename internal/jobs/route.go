// Package jobs holds identifier and routing helpers shared by the ticket
// API and CLI.
package jobs

import (
	"strings"
)

// ParseRoute splits a path like /api/tickets/{id}/{action} into the ticket
// ID and the optional action. apiPrefix should end with a slash, e.g.
// "/api/tickets/". ok is false when the ID segment is missing or there are
// extra segments.
func ParseRoute(path, apiPrefix string) (id, action string, ok bool) {
	if !strings.HasPrefix(path, apiPrefix) {
		return "", "", false
	}
	rest := strings.Trim(strings.TrimPrefix(path, apiPrefix), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}
