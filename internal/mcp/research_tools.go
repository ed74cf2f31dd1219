package mcp

import (
	"context"

	"notebooklm-mcp-server/internal/jobs"
	"notebooklm-mcp-server/internal/notebooklm"
)

// ResearchStartTool kicks off a source discovery sweep.
type ResearchStartTool struct {
	client *notebooklm.Client
}

func (t *ResearchStartTool) Name() string { return "research_start" }

func (t *ResearchStartTool) Description() string {
	return `Start a research sweep that finds candidate sources for a notebook.

search_type=web searches the public web; search_type=drive searches the
account's Google Drive. Discovery runs remotely; the tool returns a job
snapshot {job_id, state} whose target is the research session id. Follow it
with research_status and pull results in with research_import.`
}

func (t *ResearchStartTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook the discovered sources would join",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to research",
			},
			"search_type": map[string]interface{}{
				"type":        "string",
				"enum":        notebooklm.ValidSearchTypes,
				"description": "Where to search (default web)",
			},
		},
		"required": []string{"notebook_id", "query"},
	}
}

func (t *ResearchStartTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	query, _ := getStringArg(args, "query")
	searchType, _ := getStringArg(args, "search_type")

	return t.client.StartResearch(ctx, notebooklm.ResearchRequest{
		NotebookID: notebookID,
		Query:      query,
		SearchType: searchType,
	})
}

// ResearchStatusTool polls a research session's progress.
type ResearchStatusTool struct {
	client *notebooklm.Client
}

func (t *ResearchStatusTool) Name() string { return "research_status" }

func (t *ResearchStatusTool) Description() string {
	return `Check the progress of a research sweep and list the sources found so far.

While the job started by research_start is tracked this polls it and
returns the job snapshot; after a restart it falls back to reading the
research session directly.`
}

func (t *ResearchStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook the research belongs to",
			},
			"research_id": map[string]interface{}{
				"type":        "string",
				"description": "Research session to check",
			},
		},
		"required": []string{"notebook_id", "research_id"},
	}
}

func (t *ResearchStatusTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	researchID, _ := getStringArg(args, "research_id")

	if snap, ok := findJob(t.client.Tracker(), jobs.KindResearch, notebookID, researchID); ok {
		return t.client.Tracker().Poll(ctx, snap.JobID)
	}
	return t.client.GetResearchStatus(ctx, notebookID, researchID)
}

// ResearchImportTool imports discovered sources into the notebook.
type ResearchImportTool struct {
	client *notebooklm.Client
}

func (t *ResearchImportTool) Name() string { return "research_import" }

func (t *ResearchImportTool) Description() string {
	return `Import sources found by a research sweep into the notebook.

source_indices selects from the result list research_status returned, by
the index field of each entry. The imported pages then go through normal
source ingestion.`
}

func (t *ResearchImportTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to import into",
			},
			"research_id": map[string]interface{}{
				"type":        "string",
				"description": "Research session holding the results",
			},
			"source_indices": map[string]interface{}{
				"type":        "array",
				"description": "Indices of the results to import",
			},
		},
		"required": []string{"notebook_id", "research_id", "source_indices"},
	}
}

func (t *ResearchImportTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	researchID, _ := getStringArg(args, "research_id")
	indices, ok := getIntSliceArg(args, "source_indices")
	if !ok || len(indices) == 0 {
		return nil, &ValidationError{
			Tool:   t.Name(),
			Field:  "source_indices",
			Reason: ReasonWrongType,
			Detail: "expected a non-empty array of result indices",
		}
	}
	return t.client.ImportResearch(ctx, notebookID, researchID, indices)
}
