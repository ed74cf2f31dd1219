// Package browser owns the single authenticated browser context and the
// automation primitives that drive it. All product interaction flows through
// the Controller here; nothing else in the system touches Rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"notebooklm-mcp-server/internal/auth"
	"notebooklm-mcp-server/internal/config"
)

// SessionStatus is the lifecycle state of the one driven session.
type SessionStatus string

const (
	StatusUninitialized  SessionStatus = "uninitialized"
	StatusAuthenticating SessionStatus = "authenticating"
	StatusActive         SessionStatus = "active"
	StatusExpired        SessionStatus = "expired"
	StatusInvalid        SessionStatus = "invalid"
)

// Gate lets the controller pause operation admission while the browser context
// is torn down and rebuilt during reauthentication. Pause must not wait for
// in-flight work: reauth is usually triggered from inside an operation.
type Gate interface {
	Pause()
	Resume()
}

// RequestObserver receives every network request the driven page issues.
// Callbacks run on Rod's event goroutine and must not block.
type RequestObserver interface {
	ObserveRequest(url, postData string)
}

// errAuthRedirect is the internal signal that the product bounced us to the
// sign-in flow.
var errAuthRedirect = errors.New("redirected to sign-in")

// maxReauthFailures before the controller degrades to fail-fast mode.
const maxReauthFailures = 2

// Info is a point-in-time view of the session for diagnostics.
type Info struct {
	SessionID     string        `json:"session_id"`
	Status        SessionStatus `json:"status"`
	LastValidated time.Time     `json:"last_validated,omitempty"`
	ArtifactAge   string        `json:"artifact_age,omitempty"`
	Degraded      bool          `json:"degraded"`
}

// Controller owns the lifecycle of exactly one live automated browser context:
// lazy start, health checks, reauthentication, graceful shutdown.
type Controller struct {
	cfg      config.BrowserConfig
	store    *auth.Store
	authFlow auth.Authenticator
	logger   *zap.Logger
	gate     Gate
	observer RequestObserver

	// baseCtx outlives any single operation; the Rod browser binds to it so
	// an operation deadline cannot tear down the shared session.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.RWMutex
	status        SessionStatus
	sessionID     string
	lastValidated time.Time
	degraded      bool
	reauthFails   int

	adapter Adapter

	flight singleflight.Group

	// Seams for tests: starter replaces the real Rod launch, sleep replaces
	// the retry backoff wait.
	starter func(ctx context.Context, artifact *auth.Artifact) (Adapter, func(), error)
	cleanup func()
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewController wires the controller against the artifact store and the
// interactive auth collaborator (which may be nil when no interactive flow is
// available, e.g. in a remote deployment).
func NewController(cfg config.BrowserConfig, store *auth.Store, authFlow auth.Authenticator, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		store:      store,
		authFlow:   authFlow,
		logger:     logger.Named("session"),
		status:     StatusUninitialized,
		sessionID:  uuid.NewString(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		sleep:      sleepWithContext,
	}
	c.starter = c.rodStart
	return c
}

// SetGate registers the operation-admission gate used during reauth.
func (c *Controller) SetGate(gate Gate) {
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
}

// SetRequestObserver registers a sink for the page's network traffic. Must be
// called before the session starts; requests from an already-running page are
// not replayed.
func (c *Controller) SetRequestObserver(obs RequestObserver) {
	c.mu.Lock()
	c.observer = obs
	c.mu.Unlock()
}

// Status returns the current session status.
func (c *Controller) Status() SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Snapshot returns diagnostic info for server_info.
func (c *Controller) Snapshot() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := Info{
		SessionID:     c.sessionID,
		Status:        c.status,
		LastValidated: c.lastValidated,
		Degraded:      c.degraded,
	}
	if artifact := c.store.Current(); artifact != nil {
		info.ArtifactAge = artifact.Age().Round(time.Minute).String()
	}
	return info
}

// Acquire returns an adapter over the live context, lazily starting one when
// needed. An expired session triggers exactly one reauthentication attempt
// (deduplicated across concurrent callers) before any non-auth work proceeds.
func (c *Controller) Acquire(ctx context.Context) (Adapter, error) {
	c.mu.RLock()
	if c.degraded {
		c.mu.RUnlock()
		return nil, NewSessionError(SessionNotAuthenticated,
			errors.New("session degraded after repeated reauthentication failures"))
	}
	if c.status == StatusActive && c.adapter != nil {
		adapter := c.adapter
		c.mu.RUnlock()
		return adapter, nil
	}
	c.mu.RUnlock()

	if err := c.ensure(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != StatusActive || c.adapter == nil {
		return nil, NewSessionError(SessionUnavailable,
			fmt.Errorf("session not active after start (status %s)", c.status))
	}
	return c.adapter, nil
}

// ensure collapses concurrent session repair into a single flight: the leader
// runs the start or reauth path, everyone else waits for its result and then
// re-reads the shared state.
func (c *Controller) ensure(ctx context.Context) error {
	_, err, _ := c.flight.Do("session", func() (interface{}, error) {
		c.mu.RLock()
		status := c.status
		adapter := c.adapter
		degraded := c.degraded
		c.mu.RUnlock()

		if degraded {
			return nil, NewSessionError(SessionNotAuthenticated,
				errors.New("session degraded after repeated reauthentication failures"))
		}
		if status == StatusActive && adapter != nil {
			return nil, nil
		}

		if status == StatusExpired || status == StatusAuthenticating {
			return nil, c.reauthenticate(ctx)
		}

		err := c.start(ctx)
		var sessErr *SessionError
		if errors.As(err, &sessErr) && sessErr.Reason == SessionExpired && c.authFlow != nil {
			err = c.reauthenticate(ctx)
		}
		return nil, err
	})
	return err
}

// Validate issues a cheap read-only probe through the context. On an
// auth-required redirect the session transitions to expired and Validate
// returns false. Transient automation faults are retried once with backoff.
func (c *Controller) Validate(ctx context.Context) bool {
	adapter, err := c.Acquire(ctx)
	if err != nil {
		return false
	}

	probe := func() error {
		if err := adapter.Navigate(ctx, c.cfg.BaseURL); err != nil {
			return err
		}
		url, err := adapter.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if isAuthRedirect(url) {
			return errAuthRedirect
		}
		return nil
	}

	err = probe()
	if err != nil && !errors.Is(err, errAuthRedirect) {
		// One retry for transient automation faults on this idempotent probe.
		if sleepErr := c.sleep(ctx, time.Second); sleepErr == nil {
			err = probe()
		}
	}

	if errors.Is(err, errAuthRedirect) {
		c.MarkExpired()
		return false
	}
	if err != nil {
		c.logger.Warn("session probe failed", zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.lastValidated = time.Now()
	c.mu.Unlock()
	return true
}

// MarkExpired records that the product demanded re-authentication. The next
// Acquire will run the reauth flow.
func (c *Controller) MarkExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusActive || c.status == StatusUninitialized {
		c.status = StatusExpired
		c.logger.Warn("session marked expired")
	}
}

// Reauthenticate invokes the interactive auth collaborator, persists the fresh
// artifact, and rebuilds the browser context. Concurrent callers share one
// attempt; a call arriving after the session is already repaired is a no-op.
// Operation admission is paused for the duration.
func (c *Controller) Reauthenticate(ctx context.Context) error {
	_, err, _ := c.flight.Do("session", func() (interface{}, error) {
		c.mu.RLock()
		if c.status == StatusActive && c.adapter != nil {
			c.mu.RUnlock()
			return nil, nil
		}
		c.mu.RUnlock()
		return nil, c.reauthenticate(ctx)
	})
	return err
}

func (c *Controller) reauthenticate(ctx context.Context) error {
	if c.authFlow == nil {
		return NewSessionError(SessionNotAuthenticated,
			errors.New("session expired and no interactive auth flow is available"))
	}

	c.mu.Lock()
	c.status = StatusAuthenticating
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		gate.Pause()
		defer gate.Resume()
	}

	c.teardown()

	c.logger.Info("starting interactive reauthentication")
	artifact, err := c.authFlow.Login(ctx)
	if err != nil {
		c.noteReauthFailure(err)
		return NewSessionError(SessionNotAuthenticated, fmt.Errorf("interactive auth failed: %w", err))
	}
	if err := c.store.Save(artifact); err != nil {
		c.noteReauthFailure(err)
		return NewSessionError(SessionNotAuthenticated, fmt.Errorf("persisting fresh artifact: %w", err))
	}

	if err := c.start(ctx); err != nil {
		c.noteReauthFailure(err)
		return err
	}

	c.mu.Lock()
	c.reauthFails = 0
	c.degraded = false
	c.mu.Unlock()
	c.logger.Info("reauthentication complete")
	return nil
}

func (c *Controller) noteReauthFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reauthFails++
	c.status = StatusInvalid
	if c.reauthFails >= maxReauthFailures {
		c.degraded = true
		c.logger.Error("session degraded: repeated reauthentication failures",
			zap.Int("failures", c.reauthFails), zap.Error(err))
	}
}

// OnArtifactReload is the store-watch callback: a fresh artifact written
// out-of-band lifts degraded mode and schedules a restart on next Acquire.
func (c *Controller) OnArtifactReload(artifact *auth.Artifact) {
	if artifact == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = false
	c.reauthFails = 0
	if c.status == StatusExpired || c.status == StatusInvalid {
		c.status = StatusUninitialized
	}
	c.logger.Info("artifact reloaded, session restart scheduled",
		zap.Duration("artifact_age", artifact.Age()))
}

// RefreshArtifact re-extracts cookies and page tokens from the live context
// and persists them, extending the artifact's shelf life without an
// interactive flow. Fails with SessionError(Expired) when the product no
// longer recognizes the session.
func (c *Controller) RefreshArtifact(ctx context.Context) (*auth.Artifact, error) {
	adapter, err := c.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := adapter.Navigate(ctx, c.cfg.BaseURL); err != nil {
		return nil, err
	}
	url, err := adapter.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	if isAuthRedirect(url) {
		c.MarkExpired()
		return nil, NewSessionError(SessionExpired, errors.New("product demanded sign-in during refresh"))
	}

	cookies, err := adapter.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	source, err := adapter.PageSource(ctx)
	if err != nil {
		return nil, err
	}

	artifact, err := auth.BuildArtifact(cookies, source)
	if err != nil {
		c.MarkExpired()
		return nil, NewSessionError(SessionExpired, err)
	}
	if err := c.store.Save(artifact); err != nil {
		return nil, fmt.Errorf("persisting refreshed artifact: %w", err)
	}

	c.mu.Lock()
	c.lastValidated = time.Now()
	c.mu.Unlock()
	return artifact, nil
}

// Shutdown tears the browser context down. Safe to call on all exit paths.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.baseCancel()
	c.status = StatusUninitialized
	c.logger.Info("session controller shut down")
	return nil
}

func (c *Controller) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Controller) teardownLocked() {
	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}
	c.adapter = nil
}

// start loads the artifact and brings up a live context, retrying once with
// backoff on transient automation faults. Persistent failure surfaces
// SessionError(Unavailable).
func (c *Controller) start(ctx context.Context) error {
	artifact := c.store.Current()
	if artifact == nil {
		var err error
		artifact, err = c.store.Load()
		if err != nil {
			if errors.Is(err, auth.ErrNoArtifact) {
				return NewSessionError(SessionNotAuthenticated, err)
			}
			return NewSessionError(SessionNotAuthenticated, fmt.Errorf("artifact unreadable: %w", err))
		}
	}

	if err := c.store.Check(); err != nil {
		c.mu.Lock()
		c.status = StatusExpired
		c.mu.Unlock()
		return NewSessionError(SessionExpired, err)
	}

	attempt := func() error {
		adapter, cleanup, err := c.starter(ctx, artifact)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.adapter = adapter
		c.cleanup = cleanup
		c.status = StatusActive
		c.lastValidated = time.Now()
		c.mu.Unlock()
		return nil
	}

	err := attempt()
	if err != nil && !errors.Is(err, errAuthRedirect) {
		c.logger.Warn("session start failed, retrying once", zap.Error(err))
		if sleepErr := c.sleep(ctx, 2*time.Second); sleepErr != nil {
			return NewSessionError(SessionUnavailable, sleepErr)
		}
		err = attempt()
	}

	if errors.Is(err, errAuthRedirect) {
		c.mu.Lock()
		c.status = StatusExpired
		c.mu.Unlock()
		return NewSessionError(SessionExpired, errors.New("persisted session rejected by product"))
	}
	if err != nil {
		c.mu.Lock()
		c.status = StatusInvalid
		c.mu.Unlock()
		return NewSessionError(SessionUnavailable, err)
	}

	c.logger.Info("session active", zap.String("session_id", c.sessionID))
	return nil
}

// rodStart launches (or attaches to) Chrome, injects the artifact's cookies,
// opens the product, and verifies we are not bounced to sign-in.
func (c *Controller) rodStart(ctx context.Context, artifact *auth.Artifact) (Adapter, func(), error) {
	controlURL := c.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(c.cfg.IsHeadless()).UserDataDir(c.cfg.ProfileDir)
		if c.cfg.ChromeBin != "" {
			launch = launch.Bin(c.cfg.ChromeBin)
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick its own binary and defaults.
			fallback := launcher.New().Headless(c.cfg.IsHeadless()).UserDataDir(c.cfg.ProfileDir)
			if alt, altErr := fallback.Launch(); altErr == nil {
				url = alt
			} else {
				return nil, nil, fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
		}
		controlURL = url
	}

	// The browser binds to the controller's base context, not the caller's:
	// the first operation's deadline must not tear down the shared session.
	browser := rod.New().ControlURL(controlURL).Context(c.baseCtx)
	if err := browser.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connect to chrome: %w", err)
	}
	cleanup := func() { _ = browser.Close() }

	if err := browser.SetCookies(cookieParams(artifact)); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("inject session cookies: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             c.cfg.GetViewportWidth(),
		Height:            c.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		c.logger.Warn("failed to set viewport", zap.Error(err))
	}

	c.mu.RLock()
	observer := c.observer
	c.mu.RUnlock()
	if observer != nil {
		// The wait func returns once the browser connection closes, so the
		// goroutine does not outlive this session's context.
		wait := page.Context(c.baseCtx).EachEvent(func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Request == nil {
				return
			}
			observer.ObserveRequest(ev.Request.URL, ev.Request.PostData)
		})
		go wait()
	}

	adapter := newPageAdapter(page, c.cfg.NavigationTimeout(), c.cfg.WaitTimeout())
	if err := adapter.Navigate(ctx, c.cfg.BaseURL); err != nil {
		cleanup()
		return nil, nil, err
	}
	url, err := adapter.CurrentURL(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if isAuthRedirect(url) {
		cleanup()
		return nil, nil, errAuthRedirect
	}

	c.logger.Info("browser connected", zap.String("control_url", controlURL))
	return adapter, cleanup, nil
}

// cookieParams converts artifact cookies into CDP cookie params scoped to the
// google domain.
func cookieParams(artifact *auth.Artifact) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(artifact.Cookies))
	for name, value := range artifact.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:   name,
			Value:  value,
			Domain: ".google.com",
			Path:   "/",
			Secure: true,
		})
	}
	return params
}

func isAuthRedirect(url string) bool {
	return strings.Contains(url, "accounts.google.com") ||
		strings.Contains(url, "ServiceLogin") ||
		strings.Contains(url, "signin")
}

// sleepWithContext waits for d or until ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
