package auth

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Token extraction pans the server-rendered page source for the two values
// batchexecute calls require. Each has a primary pattern and a legacy fallback;
// the first capture wins.
var (
	csrfPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"SNlM0e":"([^"]+)"`),
		regexp.MustCompile(`at=([^&"]+)`),
	}
	sessionIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"FdrFJe":"([^"]+)"`),
		regexp.MustCompile(`f\.sid["\s:=]+["']?(-?\d+)`),
	}
)

// CSRFFromPage extracts the anti-forgery token from page source, or "".
func CSRFFromPage(source string) string {
	return firstCapture(csrfPatterns, source)
}

// SessionIDFromPage extracts the backend session id from page source, or "".
func SessionIDFromPage(source string) string {
	return firstCapture(sessionIDPatterns, source)
}

func firstCapture(patterns []*regexp.Regexp, source string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(source); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// BuildArtifact assembles a fresh artifact from extracted cookies and page
// source, stamping it with the current time.
func BuildArtifact(cookies map[string]string, pageSource string) (*Artifact, error) {
	artifact := &Artifact{
		Version:     ArtifactVersion,
		Cookies:     cookies,
		CSRFToken:   CSRFFromPage(pageSource),
		SessionID:   SessionIDFromPage(pageSource),
		ExtractedAt: time.Now().UTC(),
	}

	if missing := artifact.MissingCookies(); len(missing) > 0 {
		return nil, fmt.Errorf("extraction incomplete, missing cookies: %s", strings.Join(missing, ", "))
	}
	if artifact.CSRFToken == "" {
		return nil, fmt.Errorf("extraction incomplete, csrf token not found in page source")
	}
	return artifact, nil
}

// ParseCookieHeader parses a raw "k=v; k2=v2" Cookie header (the format the
// browser devtools copy button produces) into a cookie map.
func ParseCookieHeader(raw string) (map[string]string, error) {
	cookies := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("malformed cookie pair %q", part)
		}
		cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no cookies found in input")
	}
	return cookies, nil
}
