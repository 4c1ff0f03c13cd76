// Package search implements message search scoped to the rooms a user belongs to: a plain query against message
// content, and an advanced filter combining room, sender, date range, and file-only constraints. Only unencrypted
// content is searchable; encrypted message bodies are opaque ciphertext and are excluded from every query this
// package runs.
package search

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLimit and MaxLimit bound the page size for both search endpoints, matching the message-listing limits.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Result is one matched message, enriched with the room and sender names the API response needs without a second
// round trip per row.
type Result struct {
	MessageID   uuid.UUID
	RoomID      uuid.UUID
	RoomName    string
	SenderID    uuid.UUID
	SenderName  string
	Content     string
	MessageType string
	CreatedAt   time.Time
}

// Page is the pagination envelope both search endpoints return: the matched page plus enough information to render
// "has more" without a second count query racing the first.
type Page struct {
	Results []Result
	Total   int
	Offset  int
	Limit   int
}

// HasMore reports whether additional results exist beyond this page.
func (p Page) HasMore() bool {
	return p.Offset+len(p.Results) < p.Total
}

// Filters groups the advanced-search constraints. A zero value field means "no constraint on this dimension"; Query
// being empty searches by the other filters alone, matching the advanced-search endpoint's all-optional contract.
type Filters struct {
	Query    string
	RoomID   *uuid.UUID
	SenderID *uuid.UUID
	DateFrom *time.Time
	DateTo   *time.Time
	FileOnly bool
}

// ClampLimit normalizes a client-supplied limit to (0, MaxLimit], defaulting to DefaultLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
