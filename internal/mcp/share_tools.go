package mcp

import (
	"context"

	"notebooklm-mcp-server/internal/notebooklm"
)

// ShareStatusTool reads a notebook's sharing settings.
type ShareStatusTool struct {
	client *notebooklm.Client
}

func (t *ShareStatusTool) Name() string { return "notebook_share_status" }

func (t *ShareStatusTool) Description() string {
	return `Get a notebook's sharing settings: public link state and collaborators.`
}

func (t *ShareStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook whose sharing settings to read",
			},
		},
		"required": []string{"notebook_id"},
	}
}

func (t *ShareStatusTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	return t.client.GetShareStatus(ctx, notebookID)
}

// SharePublicTool toggles a notebook's public link.
type SharePublicTool struct {
	client *notebooklm.Client
}

func (t *SharePublicTool) Name() string { return "notebook_share_public" }

func (t *SharePublicTool) Description() string {
	return `Enable or disable a notebook's public link.

Enabling makes the notebook readable by anyone with the link; the returned
settings carry the link URL. Disabling revokes it.`
}

func (t *SharePublicTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to share or unshare",
			},
			"enabled": map[string]interface{}{
				"type":        "boolean",
				"description": "true turns the public link on, false revokes it",
			},
		},
		"required": []string{"notebook_id", "enabled"},
	}
}

func (t *SharePublicTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	enabled, _ := getBoolArg(args, "enabled")
	return t.client.SetPublicSharing(ctx, notebookID, enabled)
}

// ShareInviteTool invites a collaborator by email.
type ShareInviteTool struct {
	client *notebooklm.Client
}

func (t *ShareInviteTool) Name() string { return "notebook_share_invite" }

func (t *ShareInviteTool) Description() string {
	return `Invite a collaborator to a notebook by email, as viewer or editor.`
}

func (t *ShareInviteTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook to invite into",
			},
			"email": map[string]interface{}{
				"type":        "string",
				"description": "Collaborator's email address",
			},
			"role": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"viewer", "editor"},
				"description": "Access level for the collaborator",
			},
		},
		"required": []string{"notebook_id", "email", "role"},
	}
}

func (t *ShareInviteTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	email, _ := getStringArg(args, "email")
	role, _ := getStringArg(args, "role")
	return t.client.InviteCollaborator(ctx, notebookID, email, role)
}
