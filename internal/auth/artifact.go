// Package auth owns the persisted session artifact: the cookie/token snapshot
// that lets the bridge impersonate a logged-in NotebookLM user across restarts.
package auth

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ArtifactVersion is bumped when the on-disk layout changes shape.
const ArtifactVersion = 1

// RequiredCookies are the Google session cookies without which the product
// treats us as logged out.
var RequiredCookies = []string{"SID", "HSID", "SSID", "APISID", "SAPISID"}

// Artifact is the persisted authentication state. The rest of the system
// treats it as an opaque blob; only this package reads its fields.
type Artifact struct {
	Version     int               `json:"version"`
	Cookies     map[string]string `json:"cookies"`
	CSRFToken   string            `json:"csrf_token"`
	SessionID   string            `json:"session_id"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// MissingCookies returns the required cookie names absent from the artifact.
func (a *Artifact) MissingCookies() []string {
	var missing []string
	for _, name := range RequiredCookies {
		if a.Cookies[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Age returns how long ago the artifact was extracted.
func (a *Artifact) Age() time.Duration {
	if a.ExtractedAt.IsZero() {
		return 0
	}
	return time.Since(a.ExtractedAt)
}

// Stale reports whether the artifact is older than maxAge. A zero ExtractedAt
// counts as stale: we cannot vouch for tokens of unknown vintage.
func (a *Artifact) Stale(maxAge time.Duration) bool {
	if a.ExtractedAt.IsZero() {
		return true
	}
	return a.Age() > maxAge
}

// Check validates the artifact for use, returning a descriptive error when the
// session material is incomplete or past its shelf life.
func (a *Artifact) Check(maxAge time.Duration) error {
	if a == nil {
		return fmt.Errorf("no artifact")
	}
	if missing := a.MissingCookies(); len(missing) > 0 {
		return fmt.Errorf("missing required cookies: %s", strings.Join(missing, ", "))
	}
	if a.CSRFToken == "" {
		return fmt.Errorf("missing csrf token")
	}
	if a.Stale(maxAge) {
		return fmt.Errorf("artifact extracted %s ago exceeds max age %s", a.Age().Round(time.Minute), maxAge)
	}
	return nil
}

// CookieHeader renders the cookies as a single Cookie header value. Names are
// sorted so the output is stable for logging and tests.
func (a *Artifact) CookieHeader() string {
	names := make([]string, 0, len(a.Cookies))
	for name := range a.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+a.Cookies[name])
	}
	return strings.Join(pairs, "; ")
}
