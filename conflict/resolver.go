// Package conflict decides what happens when a pulled delta collides with
// local state. The resolver is pure: it inspects the two candidates and
// returns a decision; the pull pass performs the store writes.
package conflict

import (
	"context"

	"github.com/sidelinehq/coachsync/entity"
)

// Decision names the outcome of a resolution. The values feed metrics and
// logs directly.
type Decision string

const (
	// DecisionApplyRemote replaces local state with the remote delta.
	DecisionApplyRemote Decision = "apply_remote"
	// DecisionKeepLocal leaves local state untouched; a queued push will
	// correct the remote.
	DecisionKeepLocal Decision = "keep_local"
	// DecisionDelete removes the local entity.
	DecisionDelete Decision = "delete"
	// DecisionDiscard drops the delta with no local write at all.
	DecisionDiscard Decision = "discard_stale"
)

// Conflict carries one pulled delta and the local state it lands on.
// Local is nil when the entity does not exist locally.
type Conflict struct {
	Local  *entity.Envelope
	Remote entity.Delta
}

// Resolution is the verdict: the decision, a reason for logs and metrics,
// and the envelope to persist when the decision is DecisionApplyRemote.
type Resolution struct {
	Decision Decision
	Reason   string
	Envelope *entity.Envelope
}

// Resolver is the strategy interface for conflict resolution.
type Resolver interface {
	Resolve(ctx context.Context, c Conflict) (Resolution, error)
}

var _ Resolver = (*LWW)(nil)

// LWW is the default strategy: tombstones win unconditionally, version
// ordering protects dirty local edits, and when both sides genuinely
// diverged the newer updatedAt replaces the other wholesale. Concurrent
// edits to different fields of one entity are not merged.
type LWW struct{}

func (LWW) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	remote := c.Remote

	if remote.Deleted {
		if c.Local == nil {
			return Resolution{Decision: DecisionDiscard, Reason: "tombstone for unknown entity"}, nil
		}
		// Delete-wins, even over dirty local edits.
		return Resolution{Decision: DecisionDelete, Reason: "remote tombstone"}, nil
	}

	if c.Local == nil {
		return applyRemote(remote, "no local copy"), nil
	}

	local := c.Local
	if !local.Dirty {
		if remoteOlder(local, remote) {
			return Resolution{Decision: DecisionDiscard, Reason: "delta older than clean local"}, nil
		}
		return applyRemote(remote, "clean local follows remote"), nil
	}

	// Local has edits the remote has not seen yet.
	if remote.Version <= local.Version {
		return Resolution{Decision: DecisionKeepLocal, Reason: "local edits ahead of delta"}, nil
	}
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return applyRemote(remote, "remote newer by updated_at"), nil
	}
	return Resolution{Decision: DecisionKeepLocal, Reason: "local newer by updated_at"}, nil
}

// applyRemote builds the envelope a remote application persists: version and
// updatedAt come from the remote, dirty is cleared.
func applyRemote(remote entity.Delta, reason string) Resolution {
	return Resolution{
		Decision: DecisionApplyRemote,
		Reason:   reason,
		Envelope: &entity.Envelope{
			ID:         remote.ID,
			Collection: remote.Collection,
			Version:    remote.Version,
			UpdatedAt:  remote.UpdatedAt,
			Dirty:      false,
			Payload:    remote.Payload,
		},
	}
}

func remoteOlder(local *entity.Envelope, remote entity.Delta) bool {
	if remote.Version != local.Version {
		return remote.Version < local.Version
	}
	return remote.UpdatedAt.Before(local.UpdatedAt)
}
