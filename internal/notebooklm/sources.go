package notebooklm

import (
	"context"
	"fmt"
	"strings"

	"notebooklm-mcp-server/internal/jobs"
)

// Source types accepted by add_source.
const (
	SourceTypeURL   = "url"
	SourceTypeText  = "text"
	SourceTypeFile  = "file"
	SourceTypeDrive = "drive"
)

// ValidSourceTypes lists the accepted source_type values in schema order.
var ValidSourceTypes = []string{SourceTypeURL, SourceTypeText, SourceTypeFile, SourceTypeDrive}

// Source is one source row as the product lists it.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Type    string `json:"type,omitempty"`
	Status  string `json:"status,omitempty"`
	URL     string `json:"url,omitempty"`
	AddedAt string `json:"added_at,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SourceOverview is the AI summary surface of one source.
type SourceOverview struct {
	SourceID string   `json:"source_id"`
	Title    string   `json:"title,omitempty"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords,omitempty"`
}

// SourceContent is the raw text of one source.
type SourceContent struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
}

// AddSourceRequest describes one source to ingest.
type AddSourceRequest struct {
	NotebookID string
	Type       string
	URL        string
	Text       string
	Title      string
	FilePath   string
}

// AddSource submits the source and registers an ingest job that follows it
// through processing. The returned snapshot starts in the pending state and
// carries the new source id as its target; callers poll or await the job to
// see it through.
func (c *Client) AddSource(ctx context.Context, req AddSourceRequest) (jobs.Snapshot, error) {
	data, err := c.write(ctx, "source_add", "add_source", map[string]interface{}{
		"notebook_id": req.NotebookID,
		"source_type": req.Type,
		"url":         req.URL,
		"text":        req.Text,
		"title":       req.Title,
		"file_path":   req.FilePath,
	})
	if err != nil {
		return jobs.Snapshot{}, err
	}
	sourceID := stringField(data, "source_id")
	if sourceID == "" {
		if nested, ok := data["source"].(map[string]interface{}); ok {
			sourceID = stringField(nested, "id")
		}
	}
	if sourceID == "" {
		return jobs.Snapshot{}, &RemoteError{Action: "add_source", Message: "response carried no source id"}
	}
	snap := c.tracker.Start(jobs.KindIngest, req.NotebookID, sourceID, c.sourcePoll(req.NotebookID, sourceID))
	return snap, nil
}

// sourcePoll builds the ingest probe: list the notebook's sources on the read
// lane and report the tracked source's status. A source missing from the
// listing right after add is normal, so that surfaces as a transient error
// and the job keeps its last state.
func (c *Client) sourcePoll(notebookID, sourceID string) jobs.PollFunc {
	return func(ctx context.Context) (jobs.Observation, error) {
		sources, err := c.ListSources(ctx, notebookID)
		if err != nil {
			return jobs.Observation{}, err
		}
		for _, s := range sources {
			if s.ID == sourceID {
				return sourceObservation(s), nil
			}
		}
		return jobs.Observation{}, fmt.Errorf("source %s not yet listed", sourceID)
	}
}

// sourceObservation maps the product's source status vocabulary onto the
// ingest pipeline.
func sourceObservation(s Source) jobs.Observation {
	obs := jobs.Observation{Message: s.Error}
	switch strings.ToLower(s.Status) {
	case "", "pending", "new":
		obs.State = jobs.StatePending
	case "uploading", "fetching", "discovering":
		obs.State = jobs.StateDiscovering
	case "processing", "indexing", "parsing":
		obs.State = jobs.StateProcessing
	case "ready", "enabled", "active":
		obs.State = jobs.StateReady
		obs.Result = map[string]interface{}{
			"source_id": s.ID,
			"title":     s.Title,
		}
	case "error", "failed":
		obs.State = jobs.StateFailed
		if obs.Message == "" {
			obs.Message = "source processing failed"
		}
	default:
		// Unknown vocabulary reads as still in flight.
		obs.State = jobs.StateProcessing
	}
	return obs
}

// ListSources returns the notebook's sources with their processing status.
func (c *Client) ListSources(ctx context.Context, notebookID string) ([]Source, error) {
	data, err := c.read(ctx, "source_list", "list_sources", map[string]interface{}{
		"notebook_id": notebookID,
	})
	if err != nil {
		return nil, err
	}
	var sources []Source
	if raw, ok := data["sources"]; ok {
		if err := decodeInto(raw, &sources); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

// DeleteSource removes one source. Confirmation is enforced at the tool layer.
func (c *Client) DeleteSource(ctx context.Context, notebookID, sourceID string) error {
	_, err := c.write(ctx, "source_delete", "delete_source", map[string]interface{}{
		"notebook_id": notebookID,
		"source_id":   sourceID,
	})
	return err
}

// DescribeSource returns the AI summary and keywords for one source.
func (c *Client) DescribeSource(ctx context.Context, notebookID, sourceID string) (*SourceOverview, error) {
	data, err := c.read(ctx, "source_describe", "describe_source", map[string]interface{}{
		"notebook_id": notebookID,
		"source_id":   sourceID,
	})
	if err != nil {
		return nil, err
	}
	var overview SourceOverview
	if err := decodeInto(data, &overview); err != nil {
		return nil, err
	}
	if overview.SourceID == "" {
		overview.SourceID = sourceID
	}
	return &overview, nil
}

// GetSourceContent returns the raw text the product extracted from a source.
func (c *Client) GetSourceContent(ctx context.Context, notebookID, sourceID string) (*SourceContent, error) {
	data, err := c.read(ctx, "source_content", "get_source_content", map[string]interface{}{
		"notebook_id": notebookID,
		"source_id":   sourceID,
	})
	if err != nil {
		return nil, err
	}
	var content SourceContent
	if err := decodeInto(data, &content); err != nil {
		return nil, err
	}
	if content.SourceID == "" {
		content.SourceID = sourceID
	}
	return &content, nil
}
