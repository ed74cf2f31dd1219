package notebooklm

import (
	"context"
	"strings"

	"notebooklm-mcp-server/internal/jobs"
)

// Search scopes accepted by start_research.
var ValidSearchTypes = []string{"web", "drive"}

// ResearchRequest describes one research session to start.
type ResearchRequest struct {
	NotebookID string
	Query      string
	SearchType string
}

// ResearchSource is one candidate source discovered by research.
type ResearchSource struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// ResearchStatus is the progress report of one research session.
type ResearchStatus struct {
	ResearchID string           `json:"research_id"`
	NotebookID string           `json:"notebook_id,omitempty"`
	Status     string           `json:"status"`
	Query      string           `json:"query,omitempty"`
	Sources    []ResearchSource `json:"sources,omitempty"`
	Error      string           `json:"error_message,omitempty"`
}

// ImportResult reports how many discovered sources became notebook sources.
type ImportResult struct {
	ResearchID string   `json:"research_id"`
	Imported   int      `json:"imported"`
	SourceIDs  []string `json:"source_ids,omitempty"`
}

// StartResearch kicks off a web or Drive research session and registers a
// research job that follows discovery through completion. The snapshot's
// target is the research session id.
func (c *Client) StartResearch(ctx context.Context, req ResearchRequest) (jobs.Snapshot, error) {
	if req.SearchType == "" {
		req.SearchType = "web"
	}
	data, err := c.write(ctx, "research_start", "start_research", map[string]interface{}{
		"notebook_id": req.NotebookID,
		"query":       req.Query,
		"search_type": req.SearchType,
	})
	if err != nil {
		return jobs.Snapshot{}, err
	}
	researchID := stringField(data, "research_id")
	if researchID == "" {
		return jobs.Snapshot{}, &RemoteError{Action: "start_research", Message: "response carried no research id"}
	}
	snap := c.tracker.Start(jobs.KindResearch, req.NotebookID, researchID, c.researchPoll(req.NotebookID, researchID))
	return snap, nil
}

// researchPoll builds the discovery probe for one research session.
func (c *Client) researchPoll(notebookID, researchID string) jobs.PollFunc {
	return func(ctx context.Context) (jobs.Observation, error) {
		status, err := c.GetResearchStatus(ctx, notebookID, researchID)
		if err != nil {
			return jobs.Observation{}, err
		}
		return researchObservation(status), nil
	}
}

// researchObservation maps the research status vocabulary onto the discovery
// pipeline. Discovered sources ride along once the session completes.
func researchObservation(s *ResearchStatus) jobs.Observation {
	obs := jobs.Observation{Message: s.Error}
	switch strings.ToLower(s.Status) {
	case "", "pending", "starting":
		obs.State = jobs.StatePending
	case "searching", "discovering":
		obs.State = jobs.StateDiscovering
	case "analyzing", "processing", "ranking":
		obs.State = jobs.StateProcessing
	case "complete", "completed", "ready", "done":
		obs.State = jobs.StateReady
		obs.Result = map[string]interface{}{
			"research_id": s.ResearchID,
			"count":       len(s.Sources),
		}
		if len(s.Sources) > 0 {
			obs.Result["sources"] = s.Sources
		}
	case "failed", "error":
		obs.State = jobs.StateFailed
		if obs.Message == "" {
			obs.Message = "research failed"
		}
	default:
		obs.State = jobs.StateProcessing
	}
	return obs
}

// GetResearchStatus fetches the live progress of one research session.
func (c *Client) GetResearchStatus(ctx context.Context, notebookID, researchID string) (*ResearchStatus, error) {
	data, err := c.read(ctx, "research_status", "research_status", map[string]interface{}{
		"notebook_id": notebookID,
		"research_id": researchID,
	})
	if err != nil {
		return nil, err
	}
	var status ResearchStatus
	if err := decodeInto(data, &status); err != nil {
		return nil, err
	}
	if status.ResearchID == "" {
		status.ResearchID = researchID
	}
	return &status, nil
}

// ImportResearch turns discovered sources into notebook sources. A nil index
// list imports everything the session found.
func (c *Client) ImportResearch(ctx context.Context, notebookID, researchID string, indices []int) (*ImportResult, error) {
	params := map[string]interface{}{
		"notebook_id": notebookID,
		"research_id": researchID,
	}
	if indices != nil {
		params["source_indices"] = indices
	}
	data, err := c.write(ctx, "research_import", "import_research", params)
	if err != nil {
		return nil, err
	}
	var result ImportResult
	if err := decodeInto(data, &result); err != nil {
		return nil, err
	}
	if result.ResearchID == "" {
		result.ResearchID = researchID
	}
	return &result, nil
}
