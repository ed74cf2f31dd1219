package notebooklm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"notebooklm-mcp-server/internal/browser"
)

// actionEndpoint is the product's internal action dispatcher. All structured
// operations go through it as JSON envelopes.
const actionEndpoint = "/_/NotebookLmUi/data/batchexecute"

// antiJSONPrefix guards Google JSON responses against naive script inclusion.
const antiJSONPrefix = ")]}'"

// RemoteError is a failure reported by the product itself rather than by the
// browser: a non-2xx status, an error payload, or a redirect to sign-in.
type RemoteError struct {
	Action       string
	StatusCode   int
	Message      string
	AuthRedirect bool
}

func (e *RemoteError) Error() string {
	switch {
	case e.AuthRedirect:
		return fmt.Sprintf("%s: redirected to sign-in", e.Action)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: remote status %d: %s", e.Action, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Action, e.Message)
	}
}

// fetchScript posts one action envelope from inside the page. Running the
// request in page context keeps the session cookies ambient, so the transport
// never handles credentials itself. Placeholders are JSON-quoted strings.
const fetchScript = `async () => {
	const res = await fetch(%s, {
		method: "POST",
		headers: {
			"Content-Type": "application/json",
			"X-Goog-AuthToken": %s,
		},
		body: %s,
		credentials: "include",
	});
	const text = await res.text();
	return JSON.stringify({status: res.status, url: res.url, body: text});
}`

// downloadScript fetches a same-session URL and returns its bytes base64
// encoded. Chunked conversion avoids blowing the argument limit of
// String.fromCharCode on large artifacts.
const downloadScript = `async () => {
	const res = await fetch(%s, {credentials: "include"});
	const buf = await res.arrayBuffer();
	const bytes = new Uint8Array(buf);
	let bin = "";
	const chunk = 0x8000;
	for (let i = 0; i < bytes.length; i += chunk) {
		bin += String.fromCharCode.apply(null, bytes.subarray(i, i + chunk));
	}
	return JSON.stringify({status: res.status, url: res.url, data: btoa(bin)});
}`

type fetchResult struct {
	Status int    `json:"status"`
	URL    string `json:"url"`
	Body   string `json:"body"`
	Data   string `json:"data"`
}

// callAction posts one envelope and decodes the JSON payload it returns.
func callAction(ctx context.Context, adapter browser.Adapter, csrfToken, action string, params map[string]interface{}) (map[string]interface{}, error) {
	payload := map[string]interface{}{"action": action}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", action, err)
	}

	js := fmt.Sprintf(fetchScript,
		jsString(actionEndpoint),
		jsString(csrfToken),
		jsString(string(body)))

	res, err := evalFetch(ctx, adapter, js)
	if err != nil {
		return nil, err
	}
	if authRedirected(res.URL) {
		return nil, &RemoteError{Action: action, AuthRedirect: true}
	}
	if res.Status == 401 || res.Status == 403 {
		return nil, &RemoteError{Action: action, StatusCode: res.Status, Message: "authentication rejected"}
	}
	if res.Status < 200 || res.Status >= 300 {
		return nil, &RemoteError{Action: action, StatusCode: res.Status, Message: snippet(res.Body)}
	}

	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(res.Body), antiJSONPrefix))
	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", action, err)
	}
	data, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, &RemoteError{Action: action, Message: fmt.Sprintf("unexpected response shape %T", decoded)}
	}
	if msg := stringField(data, "error"); msg != "" {
		return nil, &RemoteError{Action: action, Message: msg}
	}
	return data, nil
}

// fetchBinary downloads url with the session's cookies and returns the body.
func fetchBinary(ctx context.Context, adapter browser.Adapter, url string) ([]byte, error) {
	js := fmt.Sprintf(downloadScript, jsString(url))
	res, err := evalFetch(ctx, adapter, js)
	if err != nil {
		return nil, err
	}
	if authRedirected(res.URL) {
		return nil, &RemoteError{Action: "download", AuthRedirect: true}
	}
	if res.Status < 200 || res.Status >= 300 {
		return nil, &RemoteError{Action: "download", StatusCode: res.Status, Message: "download failed"}
	}
	content, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("download: decode body: %w", err)
	}
	return content, nil
}

func evalFetch(ctx context.Context, adapter browser.Adapter, js string) (*fetchResult, error) {
	raw, err := adapter.Eval(ctx, js)
	if err != nil {
		return nil, err
	}
	var res fetchResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("decode fetch result: %w", err)
	}
	return &res, nil
}

// jsString embeds s into a script as a quoted, escaped JS string literal.
func jsString(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted)
}

func authRedirected(url string) bool {
	return strings.Contains(url, "accounts.google.com") ||
		strings.Contains(url, "ServiceLogin") ||
		strings.Contains(url, "/signin")
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
