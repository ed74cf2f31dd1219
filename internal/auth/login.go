package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Authenticator opens an interactive login flow, blocks until it succeeds,
// fails, or times out, and yields a fresh persistable artifact. The session
// controller consumes this as a black box.
type Authenticator interface {
	Login(ctx context.Context) (*Artifact, error)
}

const accountsHost = "accounts.google.com"

// InteractiveLogin drives a headful Chrome through the product's sign-in
// redirect and harvests the session material once the user lands back on the
// product. It deliberately never inspects the sign-in pages themselves.
type InteractiveLogin struct {
	BaseURL    string
	ChromeBin  string
	ProfileDir string
	Wait       time.Duration
	Logger     *zap.Logger
}

// Login implements Authenticator.
func (l *InteractiveLogin) Login(ctx context.Context) (*Artifact, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	wait := l.Wait
	if wait <= 0 {
		wait = 300 * time.Second
	}

	launch := launcher.New().Headless(false).UserDataDir(l.ProfileDir)
	if l.ChromeBin != "" {
		launch = launch.Bin(l.ChromeBin)
	}
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch login browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect login browser: %w", err)
	}
	defer func() { _ = browser.Close() }()

	page, err := browser.Page(proto.TargetCreateTarget{URL: l.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("open login page: %w", err)
	}
	_ = page.Timeout(30 * time.Second).WaitLoad()

	logger.Info("waiting for sign-in to complete",
		zap.String("url", l.BaseURL),
		zap.Duration("timeout", wait))

	if err := l.awaitProductReturn(ctx, page, wait); err != nil {
		return nil, err
	}

	return harvest(page)
}

// awaitProductReturn polls the page URL until the user has finished the
// accounts redirect and is back on the product origin.
func (l *InteractiveLogin) awaitProductReturn(ctx context.Context, page *rod.Page, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		info, err := page.Info()
		if err != nil {
			return fmt.Errorf("login page went away: %w", err)
		}
		onAccounts := strings.Contains(info.URL, accountsHost)
		onProduct := strings.HasPrefix(info.URL, l.BaseURL)
		if onProduct && !onAccounts {
			// Give the shell a beat to set its cookies.
			time.Sleep(2 * time.Second)
			return nil
		}

		if time.Now().After(deadline) {
			return errors.New("timed out waiting for sign-in to complete")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// harvest pulls google-domain cookies plus page tokens into an artifact.
func harvest(page *rod.Page) (*Artifact, error) {
	rawCookies, err := page.Cookies([]string{})
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}

	cookies := make(map[string]string)
	for _, c := range rawCookies {
		if strings.Contains(c.Domain, "google") {
			cookies[c.Name] = c.Value
		}
	}

	source, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("reading page source: %w", err)
	}

	return BuildArtifact(cookies, source)
}
