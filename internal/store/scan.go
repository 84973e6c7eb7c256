package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// timeLayouts are the text encodings seen in legacy timestamp columns.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// Seconds stay below it until the year 5138.
const epochMillisThreshold = 1e11

// NullTime scans nullable timestamps that may be stored natively, as text or
// as Unix epoch seconds/milliseconds. Unparseable values scan as NULL rather
// than failing the whole row.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (n *NullTime) Scan(src any) error {
	n.Time, n.Valid = time.Time{}, false

	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), !v.IsZero()
	case []byte:
		n.Time, n.Valid = parseTimeText(string(v))
	case string:
		n.Time, n.Valid = parseTimeText(v)
	case int64:
		n.Time, n.Valid = fromEpoch(v)
	case float64:
		n.Time, n.Valid = fromEpoch(int64(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (n NullTime) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Time, nil
}

// Ptr returns nil for NULL.
func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func parseTimeText(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromEpoch(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n >= epochMillisThreshold {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

// RawJSON scans a JSON/JSONB or text column holding the provider response.
type RawJSON struct {
	pqtype.NullRawMessage
}

// Scan implements sql.Scanner. Text columns arrive as string on some drivers,
// and text that is not valid JSON scans as NULL.
func (r *RawJSON) Scan(src any) error {
	if s, ok := src.(string); ok {
		src = []byte(s)
	}
	if b, ok := src.([]byte); ok && !json.Valid(b) {
		r.NullRawMessage = pqtype.NullRawMessage{}
		return nil
	}
	return r.NullRawMessage.Scan(src)
}

// Message returns nil for NULL or blank values.
func (r RawJSON) Message() json.RawMessage {
	if !r.Valid || len(strings.TrimSpace(string(r.RawMessage))) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), r.RawMessage...)
}
