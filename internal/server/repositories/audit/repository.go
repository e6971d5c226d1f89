package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

// Repository is append-only.
type Repository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	// List returns entries past the cursor in (timestamp, id) descending
	// order. A zero cursor means no upper bound.
	List(ctx context.Context, orgID string, before Cursor, limit int) ([]*models.AuditEntry, error)
}

// Cursor marks the last entry of a page. Entries sharing its timestamp are
// ordered by ID, so a page boundary never hides them. An empty ID bounds by
// timestamp alone.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

func CursorOf(e *models.AuditEntry) Cursor {
	return Cursor{Timestamp: e.Timestamp.UTC(), ID: e.ID}
}

func (c Cursor) IsZero() bool { return c.Timestamp.IsZero() }

// Admits reports whether an entry with ts and id sorts after the cursor.
func (c Cursor) Admits(ts time.Time, id string) bool {
	if c.IsZero() {
		return true
	}
	if ts.Before(c.Timestamp) {
		return true
	}
	return ts.Equal(c.Timestamp) && id < c.ID
}

// String encodes the cursor as "<RFC3339Nano>_<id>".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	ts := c.Timestamp.UTC().Format(time.RFC3339Nano)
	if c.ID == "" {
		return ts
	}
	return ts + "_" + c.ID
}

// ParseCursor accepts the String form or a bare RFC 3339 timestamp.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, id, _ := strings.Cut(s, "_")
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor %q: %w", s, err)
	}
	return Cursor{Timestamp: ts.UTC(), ID: id}, nil
}
