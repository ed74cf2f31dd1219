package mcp

import (
	"context"

	"notebooklm-mcp-server/internal/notebooklm"
)

// SourceAddTool submits a source for ingestion. Ingestion is asynchronous:
// the tool returns a job snapshot, or the final state when wait=true.
type SourceAddTool struct {
	client *notebooklm.Client
}

func (t *SourceAddTool) Name() string { return "source_add" }

func (t *SourceAddTool) Description() string {
	return `Add a source to a notebook. source_type picks the ingestion path:

  url   - fetch a web page (requires url)
  text  - paste raw text (requires text, title recommended)
  file  - upload a local file (requires file_path)
  drive - import a Google Drive document (requires url of the Drive item)

Ingestion runs remotely and takes seconds to minutes. By default the tool
returns immediately with a job snapshot {job_id, state}; watch the source
appear in source_list, or pass wait=true with an optional wait_timeout in
seconds (default 120) to block until ingestion settles. Waiting returns the
last snapshot even when the timeout elapses first, so check the state field.`
}

func (t *SourceAddTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Target notebook",
			},
			"source_type": map[string]interface{}{
				"type":        "string",
				"enum":        notebooklm.ValidSourceTypes,
				"description": "Ingestion path",
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Web page or Drive item URL",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Raw text content for source_type=text",
			},
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Local file path for source_type=file",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Optional display title",
			},
			"wait": map[string]interface{}{
				"type":        "boolean",
				"description": "Block until ingestion finishes or wait_timeout elapses",
			},
			"wait_timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Seconds to wait when wait=true (default 120)",
			},
		},
		"required": []string{"notebook_id", "source_type"},
	}
}

func (t *SourceAddTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	sourceType, _ := getStringArg(args, "source_type")
	url, _ := getStringArg(args, "url")
	text, _ := getStringArg(args, "text")
	filePath, _ := getStringArg(args, "file_path")
	title, _ := getStringArg(args, "title")

	snap, err := t.client.AddSource(ctx, notebooklm.AddSourceRequest{
		NotebookID: notebookID,
		Type:       sourceType,
		URL:        url,
		Text:       text,
		Title:      title,
		FilePath:   filePath,
	})
	if err != nil {
		return nil, err
	}

	if wait, _ := getBoolArg(args, "wait"); !wait {
		return snap, nil
	}

	maxWait := t.client.AwaitDefault()
	if d, ok := getDurationArg(args, "wait_timeout"); ok {
		maxWait = d
	}
	return t.client.Tracker().Await(ctx, snap.JobID, maxWait)
}

// SourceListTool lists a notebook's sources.
type SourceListTool struct {
	client *notebooklm.Client
}

func (t *SourceListTool) Name() string { return "source_list" }

func (t *SourceListTool) Description() string {
	return `List the sources in a notebook with their ids, types, and processing status.`
}

func (t *SourceListTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook whose sources to list",
			},
		},
		"required": []string{"notebook_id"},
	}
}

func (t *SourceListTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	sources, err := t.client.ListSources(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"notebook_id": notebookID,
		"sources":     sources,
		"count":       len(sources),
	}, nil
}

// SourceDeleteTool removes a source. Requires confirm=true.
type SourceDeleteTool struct {
	client *notebooklm.Client
}

func (t *SourceDeleteTool) Name() string { return "source_delete" }

func (t *SourceDeleteTool) Description() string {
	return `Remove a source from a notebook.

This cannot be undone and the notebook's answers stop citing the source.
Rejected unless confirm=true is passed explicitly.`
}

func (t *SourceDeleteTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook holding the source",
			},
			"source_id": map[string]interface{}{
				"type":        "string",
				"description": "Source to remove",
			},
			"confirm": map[string]interface{}{
				"type":        "boolean",
				"description": "Must be true. Guards against accidental deletion.",
			},
		},
		"required": []string{"notebook_id", "source_id"},
	}
}

func (t *SourceDeleteTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := requireConfirm(t.Name(), args); err != nil {
		return nil, err
	}
	notebookID, _ := getStringArg(args, "notebook_id")
	sourceID, _ := getStringArg(args, "source_id")
	if err := t.client.DeleteSource(ctx, notebookID, sourceID); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"notebook_id": notebookID,
		"source_id":   sourceID,
		"deleted":     true,
	}, nil
}

// SourceDescribeTool returns a source's generated summary and key topics.
type SourceDescribeTool struct {
	client *notebooklm.Client
}

func (t *SourceDescribeTool) Name() string { return "source_describe" }

func (t *SourceDescribeTool) Description() string {
	return `Get the AI-generated summary and key topics of one source.`
}

func (t *SourceDescribeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook holding the source",
			},
			"source_id": map[string]interface{}{
				"type":        "string",
				"description": "Source to describe",
			},
		},
		"required": []string{"notebook_id", "source_id"},
	}
}

func (t *SourceDescribeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	sourceID, _ := getStringArg(args, "source_id")
	return t.client.DescribeSource(ctx, notebookID, sourceID)
}

// SourceGetContentTool fetches a source's full indexed text.
type SourceGetContentTool struct {
	client *notebooklm.Client
}

func (t *SourceGetContentTool) Name() string { return "source_get_content" }

func (t *SourceGetContentTool) Description() string {
	return `Fetch the full extracted text of a source as NotebookLM indexed it.

Large sources return large payloads; prefer source_describe when a summary
is enough.`
}

func (t *SourceGetContentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook holding the source",
			},
			"source_id": map[string]interface{}{
				"type":        "string",
				"description": "Source whose content to fetch",
			},
		},
		"required": []string{"notebook_id", "source_id"},
	}
}

func (t *SourceGetContentTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	sourceID, _ := getStringArg(args, "source_id")
	return t.client.GetSourceContent(ctx, notebookID, sourceID)
}
