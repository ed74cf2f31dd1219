package notebooklm

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"notebooklm-mcp-server/internal/jobs"
)

func sourceListing(t *testing.T, status string) string {
	t.Helper()
	return envelopeJSON(t, map[string]interface{}{
		"sources": []map[string]interface{}{
			{"id": "src-9", "title": "Paper", "type": "url", "status": status},
		},
	})
}

func TestAddSourceRegistersIngestJob(t *testing.T) {
	client, adapter, _ := newTestClient(t)
	adapter.respond("add_source", envelopeJSON(t, map[string]interface{}{"source_id": "src-9"}))

	snap, err := client.AddSource(context.Background(), AddSourceRequest{
		NotebookID: "nb-1",
		Type:       SourceTypeURL,
		URL:        "https://example.com/paper",
	})
	require.NoError(t, err)
	require.Equal(t, jobs.KindIngest, snap.Kind)
	require.Equal(t, jobs.StatePending, snap.State)
	require.Equal(t, "nb-1", snap.NotebookID)
	require.Equal(t, "src-9", snap.TargetRef)
}

func TestIngestJobWalksPipelineFromListings(t *testing.T) {
	client, adapter, _ := newTestClient(t)
	ctx := context.Background()
	adapter.respond("add_source", envelopeJSON(t, map[string]interface{}{"source_id": "src-9"}))

	snap, err := client.AddSource(ctx, AddSourceRequest{NotebookID: "nb-1", Type: SourceTypeURL, URL: "https://example.com"})
	require.NoError(t, err)

	tracker := client.Tracker()

	adapter.respond("list_sources", sourceListing(t, "processing"))
	snap, err = tracker.Poll(ctx, snap.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.StateDiscovering, snap.State, "pipeline advances one step per poll")

	snap, err = tracker.Poll(ctx, snap.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.StateProcessing, snap.State)

	adapter.respond("list_sources", sourceListing(t, "ready"))
	snap, err = tracker.Poll(ctx, snap.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.StateReady, snap.State)
	require.Equal(t, "src-9", snap.Result["source_id"])
	require.Equal(t, "Paper", snap.Result["title"])

	require.Equal(t, []string{"add_source", "list_sources", "list_sources", "list_sources"}, adapter.actionLog())
}

func TestIngestJobFailsOnRejectedSource(t *testing.T) {
	client, adapter, _ := newTestClient(t)
	ctx := context.Background()
	adapter.respond("add_source", envelopeJSON(t, map[string]interface{}{"source_id": "src-9"}))

	snap, err := client.AddSource(ctx, AddSourceRequest{NotebookID: "nb-1", Type: SourceTypeURL, URL: "https://example.com"})
	require.NoError(t, err)

	adapter.respond("list_sources", envelopeJSON(t, map[string]interface{}{
		"sources": []map[string]interface{}{
			{"id": "src-9", "status": "error", "error": "This content can't be added to notebooks"},
		},
	}))
	snap, err = client.Tracker().Poll(ctx, snap.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.StateFailed, snap.State)
	require.Equal(t, jobs.FailureContentRejected, snap.FailureReason)
}

func TestSourceMissingFromListingIsTransient(t *testing.T) {
	client, adapter, _ := newTestClient(t)
	ctx := context.Background()
	adapter.respond("add_source", envelopeJSON(t, map[string]interface{}{"source_id": "src-9"}))
	adapter.respond("list_sources", envelopeJSON(t, map[string]interface{}{"sources": []interface{}{}}))

	snap, err := client.AddSource(ctx, AddSourceRequest{NotebookID: "nb-1", Type: SourceTypeURL, URL: "https://example.com"})
	require.NoError(t, err)

	polled, err := client.Tracker().Poll(ctx, snap.JobID)
	require.Error(t, err, "a listing without the source is a failed probe")
	require.Equal(t, jobs.StatePending, polled.State, "job state survives the failed probe")
}

func TestAddSourceWithoutIDFails(t *testing.T) {
	client, adapter, _ := newTestClient(t)
	adapter.respond("add_source", envelopeJSON(t, map[string]interface{}{"status": "ok"}))

	_, err := client.AddSource(context.Background(), AddSourceRequest{NotebookID: "nb-1", Type: SourceTypeText, Text: "notes"})
	require.Error(t, err)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
}

func TestListSources(t *testing.T) {
	client, adapter, _ := newTestClient(t)
	adapter.respond("list_sources", envelopeJSON(t, map[string]interface{}{
		"sources": []map[string]interface{}{
			{"id": "src-1", "title": "Paper", "status": "ready"},
			{"id": "src-2", "title": "Video", "status": "processing"},
		},
	}))

	sources, err := client.ListSources(context.Background(), "nb-1")
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.Equal(t, "ready", sources[0].Status)
}

func TestGetSourceContentFillsID(t *testing.T) {
	client, adapter, _ := newTestClient(t)
	adapter.respond("get_source_content", envelopeJSON(t, map[string]interface{}{
		"content": "Full extracted text.",
	}))

	content, err := client.GetSourceContent(context.Background(), "nb-1", "src-1")
	require.NoError(t, err)
	require.Equal(t, "src-1", content.SourceID)
	require.Equal(t, "Full extracted text.", content.Content)
}

func TestSourceObservationMapping(t *testing.T) {
	cases := []struct {
		status string
		want   jobs.State
	}{
		{"", jobs.StatePending},
		{"pending", jobs.StatePending},
		{"uploading", jobs.StateDiscovering},
		{"fetching", jobs.StateDiscovering},
		{"processing", jobs.StateProcessing},
		{"indexing", jobs.StateProcessing},
		{"READY", jobs.StateReady},
		{"enabled", jobs.StateReady},
		{"error", jobs.StateFailed},
		{"failed", jobs.StateFailed},
		{"somenewword", jobs.StateProcessing},
	}
	for _, tc := range cases {
		got := sourceObservation(Source{ID: "s", Status: tc.status})
		if diff := cmp.Diff(tc.want, got.State); diff != "" {
			t.Errorf("status %q state mismatch (-want +got):\n%s", tc.status, diff)
		}
	}
}
