package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notebooklm-mcp-server/internal/auth"
	"notebooklm-mcp-server/internal/browser"
	"notebooklm-mcp-server/internal/config"
	"notebooklm-mcp-server/internal/jobs"
	"notebooklm-mcp-server/internal/notebooklm"
	"notebooklm-mcp-server/internal/queue"
	"notebooklm-mcp-server/internal/rpc"
)

// fakeAdapter routes envelope scripts to scripted responses by the action
// name embedded in the request body, mirroring what the live page does.
type fakeAdapter struct {
	mu        sync.Mutex
	responses map[string]string
	actions   []string
	ui        []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{responses: make(map[string]string)}
}

func (f *fakeAdapter) respond(action string, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[action] = raw
}

func (f *fakeAdapter) actionLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func (f *fakeAdapter) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ui = append(f.ui, entry)
}

func (f *fakeAdapter) uiLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ui...)
}

func (f *fakeAdapter) Navigate(_ context.Context, url string) error {
	f.record("navigate " + url)
	return nil
}

func (f *fakeAdapter) Click(_ context.Context, selector string) error {
	f.record("click " + selector)
	return nil
}

func (f *fakeAdapter) Fill(_ context.Context, selector, value string) error {
	f.record("fill " + selector + "=" + value)
	return nil
}

func (f *fakeAdapter) ReadText(context.Context, string) (string, error) { return "", nil }

func (f *fakeAdapter) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	f.record("wait " + selector)
	return nil
}

func (f *fakeAdapter) PageSource(context.Context) (string, error) { return "", nil }

func (f *fakeAdapter) CurrentURL(context.Context) (string, error) {
	return "https://notebooklm.google.com/", nil
}

func (f *fakeAdapter) Cookies(context.Context) (map[string]string, error) { return nil, nil }

func (f *fakeAdapter) Eval(_ context.Context, js string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(js, "KeyboardEvent") {
		return "sent", nil
	}
	for action, raw := range f.responses {
		if strings.Contains(js, `\"action\":\"`+action+`\"`) {
			f.actions = append(f.actions, action)
			return raw, nil
		}
	}
	return "", fmt.Errorf("no response scripted for script: %s", js)
}

type fakeSession struct {
	adapter browser.Adapter

	mu       sync.Mutex
	acquires int
}

func (s *fakeSession) Acquire(context.Context) (browser.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	return s.adapter, nil
}

func (s *fakeSession) MarkExpired() {}

func (s *fakeSession) acquireCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires
}

func testArtifact() *auth.Artifact {
	return &auth.Artifact{
		Version: auth.ArtifactVersion,
		Cookies: map[string]string{
			"SID": "1", "HSID": "2", "SSID": "3", "APISID": "4", "SAPISID": "5",
		},
		CSRFToken:   "csrf-token",
		SessionID:   "-123456",
		ExtractedAt: time.Now(),
	}
}

func envelopeJSON(t *testing.T, payload interface{}) string {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(map[string]interface{}{
		"status": 200,
		"url":    "https://notebooklm.google.com/",
		"body":   string(body),
	})
	require.NoError(t, err)
	return string(raw)
}

func newTestServer(t *testing.T) (*Server, *fakeAdapter, *fakeSession) {
	t.Helper()

	store := auth.NewStore(filepath.Join(t.TempDir(), "auth.json"), 168*time.Hour, zap.NewNop())
	require.NoError(t, store.Save(testArtifact()))

	q := queue.New(2, 16, zap.NewNop())
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})

	tracker := jobs.NewTracker(jobs.DefaultBackoff(), time.Hour, time.Hour, zap.NewNop())

	adapter := newFakeAdapter()
	session := &fakeSession{adapter: adapter}
	client := notebooklm.New(session, q, tracker, store, "", config.QueueConfig{}, config.JobsConfig{}, zap.NewNop())

	controller := browser.NewController(config.BrowserConfig{
		BaseURL: "https://notebooklm.google.com",
	}, store, nil, zap.NewNop())

	observer, err := rpc.NewObserver(config.RPCConfig{
		Enable:          true,
		CachePath:       filepath.Join(t.TempDir(), "rpc_ids.json"),
		FactBufferLimit: 64,
	}, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(config.DefaultConfig(), client, controller, q, store, observer, nil, zap.NewNop())
	require.NoError(t, err)
	return srv, adapter, session
}

func TestServerRegistersToolCatalog(t *testing.T) {
	srv, _, _ := newTestServer(t)

	expectedTools := []string{
		"notebook_list",
		"notebook_create",
		"notebook_get",
		"notebook_describe",
		"notebook_rename",
		"notebook_delete",
		"source_add",
		"source_list",
		"source_delete",
		"source_describe",
		"source_get_content",
		"notebook_query",
		"chat_configure",
		"studio_create",
		"studio_status",
		"download_artifact",
		"research_start",
		"research_status",
		"research_import",
		"notebook_share_status",
		"notebook_share_public",
		"notebook_share_invite",
		"refresh_auth",
		"server_info",
		"rpc_discover",
	}

	for _, name := range expectedTools {
		t.Run("tool_"+name, func(t *testing.T) {
			tool, exists := srv.tools[name]
			require.True(t, exists, "tool %s is not registered", name)
			assert.Equal(t, name, tool.Name())
		})
	}
	assert.Len(t, srv.tools, len(expectedTools))
}

func TestToolContractsAreComplete(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for name, tool := range srv.tools {
		t.Run(name, func(t *testing.T) {
			assert.NotEmpty(t, tool.Description(), "tool %s has no description", name)

			schema := tool.InputSchema()
			assert.Equal(t, "object", schema["type"], "tool %s schema is not an object", name)
			_, err := json.Marshal(schema)
			assert.NoError(t, err, "tool %s schema does not marshal", name)
		})
	}
}

func TestValidationRejectsCallBeforeSessionUse(t *testing.T) {
	srv, adapter, session := newTestServer(t)

	_, err := srv.ExecuteTool(context.Background(), "notebook_create", map[string]interface{}{})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "name", vErr.Field)
	assert.Equal(t, ReasonMissingField, vErr.Reason)

	assert.Empty(t, adapter.actionLog(), "rejected call must not reach the page")
	assert.Zero(t, session.acquireCount(), "rejected call must not touch the session")
}

func TestEnumViolationRejected(t *testing.T) {
	srv, adapter, _ := newTestServer(t)

	_, err := srv.ExecuteTool(context.Background(), "source_add", map[string]interface{}{
		"notebook_id": "nb-1",
		"source_type": "ftp",
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, ReasonNotInEnum, vErr.Reason)
	assert.Empty(t, adapter.actionLog())
}

func TestDestructiveToolsNeedConfirmation(t *testing.T) {
	srv, adapter, session := newTestServer(t)

	for _, call := range []struct {
		tool string
		args map[string]interface{}
	}{
		{"notebook_delete", map[string]interface{}{"notebook_id": "nb-1"}},
		{"source_delete", map[string]interface{}{"notebook_id": "nb-1", "source_id": "src-1"}},
	} {
		_, err := srv.ExecuteTool(context.Background(), call.tool, call.args)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, "%s must demand confirmation", call.tool)
		assert.Equal(t, ReasonConfirmationRequired, vErr.Reason)
	}
	assert.Empty(t, adapter.actionLog())
	assert.Zero(t, session.acquireCount())

	adapter.respond("delete_notebook", envelopeJSON(t, map[string]interface{}{"status": "deleted"}))
	result, err := srv.ExecuteTool(context.Background(), "notebook_delete", map[string]interface{}{
		"notebook_id": "nb-1",
		"confirm":     true,
	})
	require.NoError(t, err)
	payload := result.(map[string]interface{})
	assert.Equal(t, true, payload["deleted"])
	assert.Equal(t, []string{"delete_notebook"}, adapter.actionLog())
}

func TestNotebookListFlowsThroughTool(t *testing.T) {
	srv, adapter, _ := newTestServer(t)
	adapter.respond("list_notebooks", envelopeJSON(t, map[string]interface{}{
		"notebooks": []map[string]interface{}{
			{"id": "nb-1", "title": "Biology"},
			{"id": "nb-2", "title": "History"},
		},
	}))

	result, err := srv.ExecuteTool(context.Background(), "notebook_list", nil)
	require.NoError(t, err)

	payload := result.(map[string]interface{})
	assert.Equal(t, 2, payload["count"])
	notebooks := payload["notebooks"].([]notebooklm.Notebook)
	assert.Equal(t, "nb-1", notebooks[0].ID)
}

func TestSourceAddStartsIngestJob(t *testing.T) {
	srv, adapter, _ := newTestServer(t)
	adapter.respond("add_source", envelopeJSON(t, map[string]interface{}{"source_id": "src-9"}))

	result, err := srv.ExecuteTool(context.Background(), "source_add", map[string]interface{}{
		"notebook_id": "nb-1",
		"source_type": "url",
		"url":         "https://example.com/paper",
	})
	require.NoError(t, err)

	snap, ok := result.(jobs.Snapshot)
	require.True(t, ok, "job-starting tool must return a job snapshot, got %T", result)
	assert.NotEmpty(t, snap.JobID)
	assert.Equal(t, jobs.KindIngest, snap.Kind)
	assert.Equal(t, jobs.StatePending, snap.State)
	assert.Equal(t, "src-9", snap.TargetRef)
}

func TestStudioStatusPollsTrackedJob(t *testing.T) {
	srv, adapter, _ := newTestServer(t)
	adapter.respond("create_studio", envelopeJSON(t, map[string]interface{}{"artifact_id": "art-1"}))
	adapter.respond("studio_status", envelopeJSON(t, map[string]interface{}{
		"artifact_id": "art-1",
		"status":      "queued",
	}))

	created, err := srv.ExecuteTool(context.Background(), "studio_create", map[string]interface{}{
		"notebook_id":   "nb-1",
		"artifact_type": "audio",
	})
	require.NoError(t, err)
	snap := created.(jobs.Snapshot)
	require.Equal(t, jobs.StatePending, snap.State)

	result, err := srv.ExecuteTool(context.Background(), "studio_status", map[string]interface{}{
		"notebook_id": "nb-1",
		"artifact_id": "art-1",
	})
	require.NoError(t, err)

	polled, ok := result.(jobs.Snapshot)
	require.True(t, ok, "tracked artifact must answer with the job snapshot, got %T", result)
	assert.Equal(t, snap.JobID, polled.JobID)
	assert.Equal(t, jobs.StateQueued, polled.State)
}

func TestStudioStatusFallsBackWhenUntracked(t *testing.T) {
	srv, adapter, _ := newTestServer(t)
	adapter.respond("studio_status", envelopeJSON(t, map[string]interface{}{
		"artifact_id":  "art-7",
		"status":       "ready",
		"download_url": "https://notebooklm.google.com/artifact/art-7",
	}))

	// No studio_create happened this run, as after a server restart.
	result, err := srv.ExecuteTool(context.Background(), "studio_status", map[string]interface{}{
		"notebook_id": "nb-1",
		"artifact_id": "art-7",
	})
	require.NoError(t, err)

	artifact, ok := result.(*notebooklm.StudioArtifact)
	require.True(t, ok, "untracked artifact must be read directly, got %T", result)
	assert.Equal(t, "ready", artifact.Status)
}

func TestResearchImportValidatesIndices(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, err := srv.ExecuteTool(context.Background(), "research_import", map[string]interface{}{
		"notebook_id":    "nb-1",
		"research_id":    "res-1",
		"source_indices": []interface{}{},
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "source_indices", vErr.Field)
}

func TestServerInfoAnswersWithoutSession(t *testing.T) {
	srv, adapter, session := newTestServer(t)

	result, err := srv.ExecuteTool(context.Background(), "server_info", nil)
	require.NoError(t, err)

	info := result.(map[string]interface{})
	assert.Equal(t, "notebooklm-mcp", info["name"])
	assert.Equal(t, "stdio", info["transport"])
	assert.Equal(t, len(srv.tools), info["tools"])
	assert.Equal(t, 0, info["tracked_jobs"])

	sessionInfo := info["session"].(browser.Info)
	assert.Equal(t, browser.StatusUninitialized, sessionInfo.Status)

	stats := info["queue"].(queue.Stats)
	assert.Zero(t, stats.PendingWrites)

	assert.Empty(t, adapter.actionLog(), "server_info must not drive the page")
	assert.Zero(t, session.acquireCount())
}

func TestRPCDiscoverReportsInventory(t *testing.T) {
	srv, _, _ := newTestServer(t)

	srv.observer.ObserveRequest(
		"https://notebooklm.google.com/_/NotebookLmUi/data/batchexecute?rpcids=HdY7pc%2CzwVcOc", "")

	result, err := srv.ExecuteTool(context.Background(), "rpc_discover", nil)
	require.NoError(t, err)

	payload := result.(map[string]interface{})
	assert.Equal(t, true, payload["enabled"])

	inventory := payload["inventory"].(rpc.Snapshot)
	require.Len(t, inventory.Discovered, 2)
	assert.Equal(t, []string{"zwVcOc"}, inventory.Unfamiliar)
}

func TestRPCDiscoverManualLabelAndReset(t *testing.T) {
	srv, _, _ := newTestServer(t)

	srv.observer.ObserveRequest(
		"https://notebooklm.google.com/_/NotebookLmUi/data/batchexecute?rpcids=zwVcOc", "")

	_, err := srv.ExecuteTool(context.Background(), "rpc_discover", map[string]interface{}{
		"label": "RESEARCH_START",
		"id":    "zwVcOc",
	})
	require.NoError(t, err)

	id, ok := srv.observer.LabelFor("RESEARCH_START")
	require.True(t, ok)
	assert.Equal(t, "zwVcOc", id)

	result, err := srv.ExecuteTool(context.Background(), "rpc_discover", map[string]interface{}{
		"reset": true,
	})
	require.NoError(t, err)
	inventory := result.(map[string]interface{})["inventory"].(rpc.Snapshot)
	assert.Empty(t, inventory.Discovered)
	_, ok = srv.observer.LabelFor("RESEARCH_START")
	assert.False(t, ok, "reset must drop labels")
}

func TestRPCDiscoverProbeDrivesResearchUI(t *testing.T) {
	srv, adapter, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	result, err := srv.ExecuteTool(ctx, "rpc_discover", map[string]interface{}{
		"action":      "probe",
		"notebook_id": "nb-1",
		"query":       "solar panels",
	})
	require.NoError(t, err)

	payload := result.(map[string]interface{})
	probe := payload["probe"].(*notebooklm.DiscoveryProbe)
	assert.NotEmpty(t, probe.Clicked)
	assert.True(t, probe.Searched)

	var navigated bool
	for _, entry := range adapter.uiLog() {
		if entry == "navigate https://notebooklm.google.com/notebook/nb-1" {
			navigated = true
		}
	}
	assert.True(t, navigated, "probe must open the notebook first")
}

func TestRPCDiscoverProbeNeedsNotebook(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, err := srv.ExecuteTool(context.Background(), "rpc_discover", map[string]interface{}{
		"action": "probe",
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "notebook_id", vErr.Field)
}

func TestErrorPayloadTaxonomy(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		category string
		check    func(t *testing.T, payload map[string]interface{})
	}{
		{
			name:     "validation",
			err:      &ValidationError{Tool: "notebook_delete", Field: "confirm", Reason: ReasonConfirmationRequired},
			category: "validation",
			check: func(t *testing.T, payload map[string]interface{}) {
				assert.Equal(t, "confirm", payload["field"])
				assert.Equal(t, "confirmation-required", payload["reason"])
			},
		},
		{
			name:     "session with hint",
			err:      browser.NewSessionError(browser.SessionExpired, nil),
			category: "session",
			check: func(t *testing.T, payload map[string]interface{}) {
				assert.Equal(t, "expired", payload["reason"])
				assert.NotEmpty(t, payload["hint"])
			},
		},
		{
			name: "operation timeout",
			err: &queue.OperationError{
				Reason: queue.ReasonTimeout,
				OpID:   "op-1",
				Name:   "notebook_query",
				Err:    context.DeadlineExceeded,
			},
			category: "operation",
			check: func(t *testing.T, payload map[string]interface{}) {
				assert.Equal(t, "timeout", payload["reason"])
				assert.Equal(t, "notebook_query", payload["operation"])
			},
		},
		{
			name: "session error wins over the operation wrapper",
			err: &queue.OperationError{
				Reason: queue.ReasonAutomationFailure,
				OpID:   "op-2",
				Name:   "source_add",
				Err:    browser.NewSessionError(browser.SessionNotAuthenticated, nil),
			},
			category: "session",
			check: func(t *testing.T, payload map[string]interface{}) {
				assert.Equal(t, "not-authenticated", payload["reason"])
			},
		},
		{
			name:     "job lookup",
			err:      &jobs.JobError{JobID: "job-1", Err: jobs.ErrUnknownJob},
			category: "job",
			check: func(t *testing.T, payload map[string]interface{}) {
				assert.Equal(t, "job-1", payload["job_id"])
			},
		},
		{
			name:     "remote rejection",
			err:      &notebooklm.RemoteError{Action: "create_notebook", StatusCode: 429, Message: "quota"},
			category: "remote",
			check: func(t *testing.T, payload map[string]interface{}) {
				assert.Equal(t, "create_notebook", payload["action"])
				assert.Equal(t, 429, payload["status_code"])
			},
		},
		{
			name:     "anything else is internal",
			err:      errors.New("boom"),
			category: "internal",
			check:    func(t *testing.T, payload map[string]interface{}) {},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := errorPayload(tc.err)
			assert.Equal(t, tc.category, payload["category"])
			assert.NotEmpty(t, payload["error"])
			tc.check(t, payload)
		})
	}
}

func TestSessionExpiryFlowsToTaxonomy(t *testing.T) {
	srv, adapter, _ := newTestServer(t)
	raw, err := json.Marshal(map[string]interface{}{
		"status": 401,
		"url":    "https://notebooklm.google.com/",
		"body":   "",
	})
	require.NoError(t, err)
	adapter.respond("list_notebooks", string(raw))

	_, execErr := srv.ExecuteTool(context.Background(), "notebook_list", nil)
	require.Error(t, execErr)

	payload := errorPayload(execErr)
	assert.Equal(t, "session", payload["category"])
	assert.Equal(t, "expired", payload["reason"])
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("server_info", map[string]interface{}{"bad": math.NaN()})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.Contains(t, decoded["error"], "server_info")
}

func TestCallRefPrefersMostSpecificHandle(t *testing.T) {
	assert.Equal(t, "art-1", callRef(map[string]interface{}{
		"notebook_id": "nb-1",
		"artifact_id": "art-1",
	}))
	assert.Equal(t, "nb-1", callRef(map[string]interface{}{"notebook_id": "nb-1"}))
	assert.Equal(t, "", callRef(map[string]interface{}{"query": "x"}))
}
