package mcp

import (
	"context"

	"notebooklm-mcp-server/internal/notebooklm"
)

// NotebookListTool lists every notebook the signed-in account can see.
type NotebookListTool struct {
	client *notebooklm.Client
}

func (t *NotebookListTool) Name() string { return "notebook_list" }

func (t *NotebookListTool) Description() string {
	return `List all notebooks in the account.

Returns id, title, source count, and last-modified time for each notebook.
Runs on the read lane, so it does not wait behind mutations.`
}

func (t *NotebookListTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *NotebookListTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebooks, err := t.client.ListNotebooks(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"notebooks": notebooks,
		"count":     len(notebooks),
	}, nil
}

// NotebookCreateTool creates an empty notebook.
type NotebookCreateTool struct {
	client *notebooklm.Client
}

func (t *NotebookCreateTool) Name() string { return "notebook_create" }

func (t *NotebookCreateTool) Description() string {
	return `Create a new, empty notebook with the given name and optional description.

Returns the new notebook's id. Add sources with source_add afterwards.`
}

func (t *NotebookCreateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Title of the new notebook",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Optional description shown on the notebook card",
			},
		},
		"required": []string{"name"},
	}
}

func (t *NotebookCreateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name, _ := getStringArg(args, "name")
	description, _ := getStringArg(args, "description")
	return t.client.CreateNotebook(ctx, name, description)
}

// NotebookGetTool fetches one notebook's metadata and source listing.
type NotebookGetTool struct {
	client *notebooklm.Client
}

func (t *NotebookGetTool) Name() string { return "notebook_get" }

func (t *NotebookGetTool) Description() string {
	return `Get one notebook's metadata: title, description, sources, and share state.`
}

func (t *NotebookGetTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to fetch",
			},
		},
		"required": []string{"notebook_id"},
	}
}

func (t *NotebookGetTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	return t.client.GetNotebook(ctx, notebookID)
}

// NotebookDescribeTool returns the generated notebook overview.
type NotebookDescribeTool struct {
	client *notebooklm.Client
}

func (t *NotebookDescribeTool) Name() string { return "notebook_describe" }

func (t *NotebookDescribeTool) Description() string {
	return `Get the AI-generated overview of a notebook: summary plus suggested questions.

The overview is produced from the notebook's sources, so a notebook with no
processed sources returns an empty summary.`
}

func (t *NotebookDescribeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to describe",
			},
		},
		"required": []string{"notebook_id"},
	}
}

func (t *NotebookDescribeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	return t.client.DescribeNotebook(ctx, notebookID)
}

// NotebookRenameTool renames a notebook.
type NotebookRenameTool struct {
	client *notebooklm.Client
}

func (t *NotebookRenameTool) Name() string { return "notebook_rename" }

func (t *NotebookRenameTool) Description() string {
	return `Rename a notebook.`
}

func (t *NotebookRenameTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to rename",
			},
			"new_name": map[string]interface{}{
				"type":        "string",
				"description": "New title",
			},
		},
		"required": []string{"notebook_id", "new_name"},
	}
}

func (t *NotebookRenameTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	newName, _ := getStringArg(args, "new_name")
	return t.client.RenameNotebook(ctx, notebookID, newName)
}

// NotebookDeleteTool permanently deletes a notebook. Requires confirm=true.
type NotebookDeleteTool struct {
	client *notebooklm.Client
}

func (t *NotebookDeleteTool) Name() string { return "notebook_delete" }

func (t *NotebookDeleteTool) Description() string {
	return `Permanently delete a notebook and everything in it.

This cannot be undone. The call is rejected unless confirm=true is passed
explicitly; the rejection happens before any remote work.`
}

func (t *NotebookDeleteTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to delete",
			},
			"confirm": map[string]interface{}{
				"type":        "boolean",
				"description": "Must be true. Guards against accidental deletion.",
			},
		},
		"required": []string{"notebook_id"},
	}
}

func (t *NotebookDeleteTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := requireConfirm(t.Name(), args); err != nil {
		return nil, err
	}
	notebookID, _ := getStringArg(args, "notebook_id")
	if err := t.client.DeleteNotebook(ctx, notebookID); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"notebook_id": notebookID,
		"deleted":     true,
	}, nil
}
