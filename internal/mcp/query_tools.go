package mcp

import (
	"context"

	"notebooklm-mcp-server/internal/notebooklm"
)

// NotebookQueryTool asks the notebook's AI a question.
type NotebookQueryTool struct {
	client *notebooklm.Client
}

func (t *NotebookQueryTool) Name() string { return "notebook_query" }

func (t *NotebookQueryTool) Description() string {
	return `Ask the notebook's AI a question grounded in its sources.

Returns the answer text with source citations. The question becomes part of
the notebook's chat history, so queries run as mutations on the write lane
and execute strictly in submission order.`
}

func (t *NotebookQueryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to ask",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Question to ask",
			},
		},
		"required": []string{"notebook_id", "query"},
	}
}

func (t *NotebookQueryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	query, _ := getStringArg(args, "query")
	return t.client.Query(ctx, notebookID, query)
}

// ChatConfigureTool adjusts the notebook's chat settings.
type ChatConfigureTool struct {
	client *notebooklm.Client
}

func (t *ChatConfigureTool) Name() string { return "chat_configure" }

func (t *ChatConfigureTool) Description() string {
	return `Configure the notebook's chat behavior: a conversation goal and the
preferred response length. Settings persist across queries.`
}

func (t *ChatConfigureTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to configure",
			},
			"goal": map[string]interface{}{
				"type":        "string",
				"description": "Optional conversation goal, e.g. \"explain like a tutor\"",
			},
			"response_length": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"short", "medium", "long"},
				"description": "Preferred answer length",
			},
		},
		"required": []string{"notebook_id"},
	}
}

func (t *ChatConfigureTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	goal, _ := getStringArg(args, "goal")
	responseLength, _ := getStringArg(args, "response_length")
	return t.client.ConfigureChat(ctx, notebooklm.ChatConfig{
		NotebookID:     notebookID,
		Goal:           goal,
		ResponseLength: responseLength,
	})
}
