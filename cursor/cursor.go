// Package cursor tracks per-collection sync progress and its opaque wire
// encoding. A cursor is a watermark over the remote change feed: deltas at or
// below it have already been applied locally.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// KindProgress is the wire kind tag for the sequence/timestamp cursor.
const KindProgress = "progress"

// Maximum allowed size for a wire cursor payload.
const maxWireCursorSize = 64 * 1024 // 64 KB

// Cursor marks how far one collection has synchronized with the remote.
// Seq is the remote sequence watermark; SyncedAt records the server time of
// the newest applied delta and is informational.
type Cursor struct {
	Seq      uint64    `json:"seq"`
	SyncedAt time.Time `json:"synced_at,omitzero"`
}

// IsZero reports whether the cursor marks no progress at all.
func (c Cursor) IsZero() bool {
	return c.Seq == 0 && c.SyncedAt.IsZero()
}

// Compare orders two cursors by watermark. Returns -1 if c is behind other,
// 0 if equal, +1 if ahead. Ties on Seq fall back to SyncedAt.
func (c Cursor) Compare(other Cursor) int {
	switch {
	case c.Seq < other.Seq:
		return -1
	case c.Seq > other.Seq:
		return 1
	}
	switch {
	case c.SyncedAt.Before(other.SyncedAt):
		return -1
	case c.SyncedAt.After(other.SyncedAt):
		return 1
	}
	return 0
}

func (c Cursor) String() string {
	if c.SyncedAt.IsZero() {
		return fmt.Sprintf("progress:%d", c.Seq)
	}
	return fmt.Sprintf("progress:%d@%s", c.Seq, c.SyncedAt.UTC().Format(time.RFC3339))
}

// Advance returns the cursor moved forward to the given watermark. It never
// moves backwards: a stale page cannot regress recorded progress.
func (c Cursor) Advance(seq uint64, at time.Time) Cursor {
	next := c
	if seq > next.Seq {
		next.Seq = seq
	}
	if at.After(next.SyncedAt) {
		next.SyncedAt = at
	}
	return next
}

// WireCursor is the tagged wire envelope for a cursor.
type WireCursor struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalWire encodes a cursor into its wire envelope.
func MarshalWire(c Cursor) (*WireCursor, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}
	return &WireCursor{Kind: KindProgress, Data: data}, nil
}

// ValidateWireCursor checks the envelope before decoding.
func ValidateWireCursor(wc *WireCursor) error {
	if wc == nil {
		return fmt.Errorf("nil wire cursor")
	}
	if len(wc.Data) > maxWireCursorSize {
		return fmt.Errorf("cursor data exceeds %d bytes", maxWireCursorSize)
	}
	if wc.Kind != KindProgress {
		return fmt.Errorf("unknown cursor kind: %s", wc.Kind)
	}
	return nil
}

// UnmarshalWire decodes a cursor from its wire envelope.
func UnmarshalWire(wc *WireCursor) (Cursor, error) {
	if err := ValidateWireCursor(wc); err != nil {
		return Cursor{}, err
	}
	var c Cursor
	if err := json.Unmarshal(wc.Data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor data: %w", err)
	}
	return c, nil
}

// EncodeToken renders a cursor as an opaque URL-safe token for query strings.
// The zero cursor encodes to the empty token.
func EncodeToken(c Cursor) (string, error) {
	if c.IsZero() {
		return "", nil
	}
	wc, err := MarshalWire(c)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(wc)
	if err != nil {
		return "", fmt.Errorf("marshal wire cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a token produced by EncodeToken. The empty token decodes
// to the zero cursor.
func DecodeToken(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	if len(token) > maxWireCursorSize {
		return Cursor{}, fmt.Errorf("cursor token exceeds %d bytes", maxWireCursorSize)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor token: %w", err)
	}
	var wc WireCursor
	if err := json.Unmarshal(raw, &wc); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor token: %w", err)
	}
	return UnmarshalWire(&wc)
}

// MustEncodeToken is like EncodeToken but panics on error. Encoding a valid
// cursor cannot fail, so this is safe for cursors built by this package.
func MustEncodeToken(c Cursor) string {
	token, err := EncodeToken(c)
	if err != nil {
		panic(fmt.Sprintf("cursor: encode token: %v", err))
	}
	return token
}
