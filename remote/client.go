package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sidelinehq/coachsync/cursor"
	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/logging"
	"github.com/sidelinehq/coachsync/queue"
)

const component = syncErrors.Component("remote")

// Limits defines size limits for backend responses.
type Limits struct {
	// MaxBodyBytes caps how much of a response body is read. Default 8MB.
	MaxBodyBytes int64
}

// Client talks to the cloud sync backend. It satisfies queue.Provider for
// pushes and serves the pull side's paginated delta feed.
type Client struct {
	baseURL string
	http    *http.Client
	limits  Limits
	tokens  TokenSource
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLimits sets the response size limits.
func WithLimits(l Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithTokenSource sets the bearer token source. Without one, requests go out
// unauthenticated.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, syncErrors.E(syncErrors.OpPush, component, syncErrors.KindValidation,
			"base URL is required")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limits:  Limits{MaxBodyBytes: 8 << 20},
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent(logging.Component("remote"))
	return c, nil
}

var _ queue.Provider = (*Client)(nil)

// Push delivers one mutation. A nil error means the backend holds the
// mutation durably; replays of an already-committed record id map to success
// so a lost ack never wedges the queue.
func (c *Client) Push(ctx context.Context, rec queue.Record) (queue.PushAck, error) {
	body, err := json.Marshal(pushRequest{
		RecordID: rec.ID,
		EntityID: rec.EntityID,
		Op:       rec.Op,
		Version:  rec.BaseVersion,
		Payload:  rec.Payload,
	})
	if err != nil {
		return queue.PushAck{}, syncErrors.E(syncErrors.OpPush, component, syncErrors.KindInternal, err)
	}

	endpoint := fmt.Sprintf("%s/v1/sync/%s/push", c.baseURL, rec.Collection)
	c.logger.Debug("pushing mutation",
		slog.String("record_id", rec.ID),
		slog.String("url", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return queue.PushAck{}, syncErrors.E(syncErrors.OpPush, component, syncErrors.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return queue.PushAck{}, syncErrors.E(syncErrors.OpPush, component, syncErrors.KindNetwork, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return queue.PushAck{}, syncErrors.E(syncErrors.OpPush, component, syncErrors.KindNetwork,
			fmt.Errorf("push request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		ack := queue.PushAck{RemoteVersion: rec.BaseVersion}
		if resp.StatusCode != http.StatusNoContent {
			var pr pushResponse
			if err := decodeBody(resp.Body, c.limits.MaxBodyBytes, &pr); err != nil {
				// The commit landed; failing here only triggers an
				// idempotent replay.
				return queue.PushAck{}, syncErrors.E(syncErrors.OpPush, component, syncErrors.KindNetwork,
					fmt.Errorf("read push ack: %w", err))
			}
			if pr.RemoteVersion > 0 {
				ack.RemoteVersion = pr.RemoteVersion
			}
		}
		return ack, nil

	case resp.StatusCode == http.StatusConflict:
		var pr pushResponse
		if err := decodeBody(resp.Body, c.limits.MaxBodyBytes, &pr); err == nil {
			if pr.Status == statusAlreadyApplied || pr.Status == statusSuperseded {
				// Entity already at or past this version: the mutation
				// needs no retry.
				return queue.PushAck{RemoteVersion: pr.RemoteVersion}, nil
			}
		}
		return queue.PushAck{}, syncErrors.E(syncErrors.OpPush, component, syncErrors.KindConflict,
			fmt.Errorf("backend reports unresolvable conflict for %s", rec.ID),
			syncErrors.Metadata{"status": resp.StatusCode, "record_id": rec.ID})

	default:
		return queue.PushAck{}, c.statusError(syncErrors.OpPush, resp)
	}
}

// PullDeltas pages through a collection's delta feed from the given cursor.
// Payloads are schema-checked before anything reaches the resolver.
func (c *Client) PullDeltas(ctx context.Context, collection entity.Collection, since cursor.Cursor, limit int) ([]entity.Delta, cursor.Cursor, error) {
	if !collection.Valid() {
		return nil, cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindValidation,
			fmt.Errorf("unknown collection %q", collection))
	}
	if limit <= 0 {
		limit = 200
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if token, err := cursor.EncodeToken(since); err != nil {
		return nil, cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindValidation, err)
	} else if token != "" {
		query.Set("cursor", token)
	}

	endpoint := fmt.Sprintf("%s/v1/sync/%s/deltas?%s", c.baseURL, collection, query.Encode())
	c.logger.Debug("pulling deltas",
		slog.String("collection", string(collection)),
		slog.Int("limit", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindInternal, err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindNetwork, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindNetwork,
			fmt.Errorf("pull request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, cursor.Cursor{}, c.statusError(syncErrors.OpPull, resp)
	}

	var dr deltasResponse
	if err := decodeBody(resp.Body, c.limits.MaxBodyBytes, &dr); err != nil {
		return nil, cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindNetwork,
			fmt.Errorf("read deltas: %w", err))
	}

	next, err := cursor.DecodeToken(dr.NextCursor)
	if err != nil {
		return nil, cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindValidation,
			fmt.Errorf("backend returned a bad cursor: %w", err))
	}

	deltas := make([]entity.Delta, 0, len(dr.Deltas))
	for _, wd := range dr.Deltas {
		if wd.ID == "" {
			return nil, cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindValidation,
				"delta without entity id")
		}
		if !wd.Deleted {
			if err := entity.ValidatePayload(collection, wd.Payload); err != nil {
				return nil, cursor.Cursor{}, syncErrors.WrapOpComponent(err, string(syncErrors.OpPull), string(component))
			}
		}
		deltas = append(deltas, wd.toDelta(collection))
	}

	c.logger.Debug("pulled deltas",
		slog.String("collection", string(collection)),
		slog.Int("count", len(deltas)))
	return deltas, next, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// statusError maps a non-success response to the error taxonomy: transient
// statuses stay retryable, everything else is a rejection that must surface
// instead of looping.
func (c *Client) statusError(op syncErrors.Op, resp *http.Response) error {
	body, _ := readBodyLimited(resp.Body, 4096)
	msg := fmt.Errorf("backend returned status %d: %s", resp.StatusCode,
		strings.TrimSpace(string(body)))
	meta := syncErrors.Metadata{"status": resp.StatusCode}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return syncErrors.E(op, component, syncErrors.KindNetwork, msg, meta)
	default:
		return syncErrors.E(op, component, syncErrors.KindRejected, msg, meta)
	}
}
