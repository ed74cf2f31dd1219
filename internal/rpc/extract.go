// Package rpc observes the product's batchexecute traffic and keeps a
// persistent inventory of the RPC ids it uses. The ids are opaque and shift
// between product releases, so the bridge learns them from live requests
// instead of hardcoding call tables.
package rpc

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

var (
	rpcidsPattern = regexp.MustCompile(`(?i)[?&]rpcids=([^&\s"']+)`)
	freqPattern   = regexp.MustCompile(`f\.req=([^&\s]+)`)
	idShape       = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,18}$`)
)

// FromURL extracts RPC ids from a batchexecute request URL. The rpcids query
// parameter carries a comma-separated, URL-encoded list.
func FromURL(requestURL string) []string {
	match := rpcidsPattern.FindStringSubmatch(requestURL)
	if len(match) != 2 {
		return nil
	}
	raw, err := url.QueryUnescape(match[1])
	if err != nil {
		raw = match[1]
	}

	ids := make([]string, 0, 2)
	for _, part := range strings.Split(raw, ",") {
		if id := normalizeID(part); id != "" {
			ids = append(ids, id)
		}
	}
	return dedupe(ids)
}

// FromPostData extracts RPC ids from a batchexecute POST body. The f.req form
// field holds nested JSON arrays where each inner call's first element is the
// RPC id.
func FromPostData(postData string) []string {
	match := freqPattern.FindStringSubmatch(postData)
	if len(match) != 2 {
		return nil
	}
	raw, err := url.QueryUnescape(match[1])
	if err != nil {
		raw = match[1]
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}

	ids := make([]string, 0, 2)
	outer, ok := parsed.([]interface{})
	if !ok {
		return nil
	}
	for _, item := range outer {
		calls, ok := item.([]interface{})
		if !ok {
			continue
		}
		for _, call := range calls {
			inner, ok := call.([]interface{})
			if !ok || len(inner) == 0 {
				continue
			}
			first, ok := inner[0].(string)
			if !ok || len(first) >= 20 {
				continue
			}
			if id := normalizeID(first); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return dedupe(ids)
}

// FromRequest extracts every RPC id visible in one request.
func FromRequest(requestURL, postData string) []string {
	ids := FromURL(requestURL)
	ids = append(ids, FromPostData(postData)...)
	return dedupe(ids)
}

// IsBatchExecute reports whether the URL targets the action dispatcher.
func IsBatchExecute(requestURL string) bool {
	return strings.Contains(requestURL, "batchexecute")
}

func normalizeID(value string) string {
	id := strings.TrimSpace(value)
	id = strings.Trim(id, "\"'`")
	if !idShape.MatchString(id) {
		return ""
	}
	return id
}

func dedupe(ids []string) []string {
	if len(ids) <= 1 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	return uniq
}
