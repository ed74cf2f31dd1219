package mcp

import (
	"context"
	"fmt"
	"time"

	"notebooklm-mcp-server/internal/auth"
	"notebooklm-mcp-server/internal/browser"
	"notebooklm-mcp-server/internal/notebooklm"
	"notebooklm-mcp-server/internal/queue"
	"notebooklm-mcp-server/internal/rpc"
)

// RefreshAuthTool re-extracts session credentials from the live browser and
// rewrites the auth artifact. It runs on the write lane so no mutation is
// mid-flight while the page navigates.
type RefreshAuthTool struct {
	controller *browser.Controller
	queue      *queue.Queue
	deadline   time.Duration
}

func (t *RefreshAuthTool) Name() string { return "refresh_auth" }

func (t *RefreshAuthTool) Description() string {
	return `Refresh the persisted auth artifact from the live session.

Re-extracts cookies and page tokens and rewrites the artifact on disk,
extending its shelf life without an interactive login. Fails with a session
error when the product no longer recognizes the session; run the nlmauth
CLI login flow in that case.`
}

func (t *RefreshAuthTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *RefreshAuthTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	op := queue.NewOperation(queue.KindWrite, "refresh_auth", t.deadline, func(opCtx context.Context) (interface{}, error) {
		return t.controller.RefreshArtifact(opCtx)
	})
	value, err := t.queue.Do(ctx, op)
	if err != nil {
		return nil, err
	}
	artifact, ok := value.(*auth.Artifact)
	if !ok {
		return nil, fmt.Errorf("refresh_auth: unexpected result %T", value)
	}
	return map[string]interface{}{
		"status":       "refreshed",
		"session_id":   artifact.SessionID,
		"extracted_at": artifact.ExtractedAt,
		"artifact_age": artifact.Age().Round(time.Second).String(),
	}, nil
}

// ServerInfoTool reports bridge diagnostics without touching the browser.
type ServerInfoTool struct {
	server *Server
}

func (t *ServerInfoTool) Name() string { return "server_info" }

func (t *ServerInfoTool) Description() string {
	return `Report server diagnostics: version, transport, session status, queue
depth, and tracked jobs. Answers locally without touching the browser, so
it works even when the session is degraded.`
}

func (t *ServerInfoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ServerInfoTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	s := t.server
	transport := "stdio"
	if s.cfg.MCP.SSEPort > 0 {
		transport = "sse"
	}
	info := map[string]interface{}{
		"name":         s.cfg.Server.Name,
		"version":      s.cfg.Server.Version,
		"transport":    transport,
		"tools":        len(s.tools),
		"session":      s.controller.Snapshot(),
		"queue":        s.queue.Stats(),
		"tracked_jobs": s.client.Tracker().Count(),
	}
	if s.observer != nil {
		info["rpc_observer"] = s.observer.Enabled()
	}
	return info, nil
}

// probeSettle is how long rpc_discover waits after a probe for triggered
// requests to reach the observer.
const probeSettle = 1500 * time.Millisecond

// RPCDiscoverTool inspects the observed batchexecute traffic inventory and
// optionally drives the research UI to surface unmapped RPC ids.
type RPCDiscoverTool struct {
	client   *notebooklm.Client
	observer *rpc.Observer
}

func (t *RPCDiscoverTool) Name() string { return "rpc_discover" }

func (t *RPCDiscoverTool) Description() string {
	return `Inspect the RPC id inventory built from observed backend traffic.

With no arguments, returns the inventory: every id seen on batchexecute
requests, which ones are outside the known baseline, and any semantic
labels. action=probe navigates to the given notebook_id, exercises the
research UI (optionally submitting query), and reports ids that appeared
during the probe; pass label to bind a semantic name when exactly one new
id surfaces, or pass label together with id to bind one manually.
reset=true clears the inventory first. Requires rpc.enable in the config;
with observation off the inventory only holds what the cache file had.`
}

func (t *RPCDiscoverTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"inventory", "probe"},
				"description": "inventory (default) or probe",
			},
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to drive when action=probe",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search text the probe submits in the research UI",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Semantic name to bind, e.g. RESEARCH_START",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Explicit id to bind the label to",
			},
			"reset": map[string]interface{}{
				"type":        "boolean",
				"description": "Clear the inventory before anything else",
			},
		},
	}
}

func (t *RPCDiscoverTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if reset, _ := getBoolArg(args, "reset"); reset {
		t.observer.Reset()
	}

	label, _ := getStringArg(args, "label")
	if id, ok := getStringArg(args, "id"); ok && id != "" && label != "" {
		t.observer.Label(label, id)
	}

	action, _ := getStringArg(args, "action")
	if action != "probe" {
		return map[string]interface{}{
			"enabled":   t.observer.Enabled(),
			"inventory": t.observer.Snapshot(),
		}, nil
	}

	notebookID, _ := getStringArg(args, "notebook_id")
	if notebookID == "" {
		return nil, &ValidationError{
			Tool:   t.Name(),
			Field:  "notebook_id",
			Reason: ReasonMissingField,
			Detail: "action=probe needs a notebook to drive",
		}
	}
	query, _ := getStringArg(args, "query")

	before := seenBefore(t.observer.Snapshot())
	probe, err := t.client.ProbeResearchUI(ctx, notebookID, query)
	if err != nil {
		return nil, err
	}
	settle(ctx)

	after := t.observer.Snapshot()
	fresh := freshIDs(before, after)
	if label != "" && len(fresh) == 1 {
		t.observer.Label(label, fresh[0])
		after = t.observer.Snapshot()
	}

	return map[string]interface{}{
		"enabled":   t.observer.Enabled(),
		"probe":     probe,
		"new_ids":   fresh,
		"inventory": after,
	}, nil
}

// settle gives requests triggered by a probe time to land in the observer.
func settle(ctx context.Context) {
	timer := time.NewTimer(probeSettle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func seenBefore(snap rpc.Snapshot) map[string]struct{} {
	seen := make(map[string]struct{}, len(snap.Discovered))
	for _, entry := range snap.Discovered {
		seen[entry.ID] = struct{}{}
	}
	return seen
}

// freshIDs keeps the after-snapshot's first-sighting order.
func freshIDs(before map[string]struct{}, after rpc.Snapshot) []string {
	var fresh []string
	for _, entry := range after.Discovered {
		if _, ok := before[entry.ID]; !ok {
			fresh = append(fresh, entry.ID)
		}
	}
	return fresh
}
