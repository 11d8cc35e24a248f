// Package remote is the HTTP client for the cloud sync backend. It
// implements the queue's push provider and the pull side's delta source.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sidelinehq/coachsync/entity"
	"github.com/sidelinehq/coachsync/queue"
)

// Push body for POST /v1/sync/{collection}/push. The record id is stable
// across retries so the backend can deduplicate replayed deliveries; version
// is the expected entity version after this mutation.
type pushRequest struct {
	RecordID string          `json:"record_id"`
	EntityID string          `json:"entity_id"`
	Op       queue.Op        `json:"op"`
	Version  uint64          `json:"version"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Push response. Status distinguishes a fresh commit from an idempotent
// replay ("already_applied") or a commit the backend had already moved past
// ("superseded"); all three mean the mutation needs no retry.
type pushResponse struct {
	Status        string `json:"status"`
	RemoteVersion uint64 `json:"remote_version"`
	Message       string `json:"message,omitempty"`
}

const (
	statusCommitted      = "committed"
	statusAlreadyApplied = "already_applied"
	statusSuperseded     = "superseded"
)

// Deltas body for GET /v1/sync/{collection}/deltas.
type deltasResponse struct {
	Deltas     []wireDelta `json:"deltas"`
	NextCursor string      `json:"next_cursor"`
}

type wireDelta struct {
	ID        string          `json:"id"`
	Deleted   bool            `json:"deleted,omitempty"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (d wireDelta) toDelta(c entity.Collection) entity.Delta {
	return entity.Delta{
		Collection: c,
		ID:         d.ID,
		Deleted:    d.Deleted,
		Version:    d.Version,
		UpdatedAt:  d.UpdatedAt,
		Payload:    d.Payload,
	}
}

// errBodyTooLarge marks a response body that exceeded MaxBodyBytes.
var errBodyTooLarge = errors.New("response body exceeds size limit")

// readBodyLimited drains at most max bytes and errors instead of silently
// truncating an oversized body.
func readBodyLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeBody(body io.Reader, max int64, v interface{}) error {
	data, err := readBodyLimited(body, max)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
