// Package notebooklm is the product client. It speaks the NotebookLM internal
// action API from inside the authenticated page and translates remote payloads
// into the typed results the tool layer returns. Every remote call rides the
// operation queue: mutations on the serialized write lane, list and status
// probes on the bounded read lane.
package notebooklm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notebooklm-mcp-server/internal/auth"
	"notebooklm-mcp-server/internal/browser"
	"notebooklm-mcp-server/internal/config"
	"notebooklm-mcp-server/internal/jobs"
	"notebooklm-mcp-server/internal/queue"
)

// Session is the slice of the session controller the client needs: a live
// adapter on demand, and a way to flag the session after the product answers
// with a sign-in redirect or a 401/403.
type Session interface {
	Acquire(ctx context.Context) (browser.Adapter, error)
	MarkExpired()
}

// Client drives one NotebookLM account through the shared browser session.
// Methods are safe for concurrent use; ordering guarantees come from the
// operation queue, not from the client.
type Client struct {
	session Session
	queue   *queue.Queue
	tracker *jobs.Tracker
	store   *auth.Store
	logger  *zap.Logger

	baseURL       string
	writeDeadline time.Duration
	readDeadline  time.Duration
	awaitDefault  time.Duration
}

// New wires the client against an already constructed session controller,
// operation queue, and job tracker. baseURL is the product origin used for
// page navigation; empty means the public product URL.
func New(session Session, q *queue.Queue, tracker *jobs.Tracker, store *auth.Store, baseURL string, cfg config.QueueConfig, jcfg config.JobsConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		session:       session,
		queue:         q,
		tracker:       tracker,
		store:         store,
		logger:        logger.Named("client"),
		baseURL:       baseURL,
		writeDeadline: cfg.WriteDeadline(),
		readDeadline:  cfg.ReadDeadline(),
		awaitDefault:  jcfg.AwaitDefault(),
	}
}

// Tracker exposes the job tracker for status tools.
func (c *Client) Tracker() *jobs.Tracker { return c.tracker }

// AwaitDefault is the configured default maxWait for await-style calls.
func (c *Client) AwaitDefault() time.Duration { return c.awaitDefault }

// write submits a mutation on the write lane and returns the decoded payload.
func (c *Client) write(ctx context.Context, name, action string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.submit(ctx, queue.KindWrite, c.writeDeadline, name, action, params)
}

// read submits a list or status probe on the read lane.
func (c *Client) read(ctx context.Context, name, action string, params map[string]interface{}) (map[string]interface{}, error) {
	return c.submit(ctx, queue.KindRead, c.readDeadline, name, action, params)
}

func (c *Client) submit(ctx context.Context, kind queue.Kind, deadline time.Duration, name, action string, params map[string]interface{}) (map[string]interface{}, error) {
	op := queue.NewOperation(kind, name, deadline, func(opCtx context.Context) (interface{}, error) {
		return c.call(opCtx, action, params)
	})
	value, err := c.queue.Do(ctx, op)
	if err != nil {
		return nil, err
	}
	payload, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload type %T", action, value)
	}
	return payload, nil
}

// call performs one action request inside the live page. It runs on a queue
// worker with the operation deadline already applied to ctx.
func (c *Client) call(ctx context.Context, action string, params map[string]interface{}) (map[string]interface{}, error) {
	started := time.Now()
	value, err := c.withPage(ctx, func(pageCtx context.Context, adapter browser.Adapter, csrf string) (interface{}, error) {
		return callAction(pageCtx, adapter, csrf, action, params)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("remote action",
		zap.String("action", action),
		zap.Duration("took", time.Since(started)))
	return value.(map[string]interface{}), nil
}

// withPage runs fn against the live page with the current token, translating
// remote auth rejections into session errors so the controller degrades the
// session exactly once.
func (c *Client) withPage(ctx context.Context, fn func(ctx context.Context, adapter browser.Adapter, csrf string) (interface{}, error)) (interface{}, error) {
	adapter, err := c.session.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	artifact := c.store.Current()
	if artifact == nil {
		return nil, browser.NewSessionError(browser.SessionNotAuthenticated, auth.ErrNoArtifact)
	}
	value, err := fn(ctx, adapter, artifact.CSRFToken)
	if err != nil {
		if isAuthExpired(err) {
			c.session.MarkExpired()
			return nil, browser.NewSessionError(browser.SessionExpired, err)
		}
		return nil, err
	}
	return value, nil
}

// isAuthExpired reports whether err is the remote telling us the session
// cookies no longer work.
func isAuthExpired(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode == 401 || remote.StatusCode == 403 || remote.AuthRedirect
	}
	return false
}

// decodeInto round-trips a decoded JSON value into a typed struct. Remote
// payloads arrive as generic maps; this keeps the per-field plumbing out of
// every domain method.
func decodeInto(raw interface{}, out interface{}) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// stringField returns m[key] if it is a string, else "".
func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
