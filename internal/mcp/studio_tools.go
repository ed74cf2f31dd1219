package mcp

import (
	"context"

	"notebooklm-mcp-server/internal/jobs"
	"notebooklm-mcp-server/internal/notebooklm"
)

// findJob locates the tracked job following a remote target (artifact id or
// research session id). Newest wins when several match.
func findJob(tracker *jobs.Tracker, kind jobs.Kind, notebookID, targetRef string) (jobs.Snapshot, bool) {
	var best jobs.Snapshot
	found := false
	for _, snap := range tracker.List() {
		if snap.Kind != kind || snap.TargetRef != targetRef {
			continue
		}
		if notebookID != "" && snap.NotebookID != notebookID {
			continue
		}
		if !found || snap.CreatedAt.After(best.CreatedAt) {
			best = snap
			found = true
		}
	}
	return best, found
}

// StudioCreateTool starts generation of a studio artifact.
type StudioCreateTool struct {
	client *notebooklm.Client
}

func (t *StudioCreateTool) Name() string { return "studio_create" }

func (t *StudioCreateTool) Description() string {
	return `Generate a studio artifact from the notebook's sources.

artifact_type picks what gets generated: audio (podcast-style overview),
video, report, quiz, flashcards, mind_map, slide_deck, infographic, or
data_table. format refines types that support variants; difficulty applies
to quiz and flashcards (default medium).

Generation takes minutes. The tool returns a job snapshot {job_id, state}
whose target is the new artifact id; poll progress with studio_status and
fetch the finished artifact with download_artifact.`
}

func (t *StudioCreateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook whose sources feed the artifact",
			},
			"artifact_type": map[string]interface{}{
				"type":        "string",
				"enum":        notebooklm.ValidArtifactTypes,
				"description": "Kind of artifact to generate",
			},
			"format": map[string]interface{}{
				"type":        "string",
				"description": "Optional format variant, e.g. \"brief\" or \"deep_dive\" for audio",
			},
			"difficulty": map[string]interface{}{
				"type":        "string",
				"enum":        notebooklm.ValidDifficulties,
				"description": "Difficulty for quiz and flashcards (default medium)",
			},
		},
		"required": []string{"notebook_id", "artifact_type"},
	}
}

func (t *StudioCreateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	artifactType, _ := getStringArg(args, "artifact_type")
	format, _ := getStringArg(args, "format")
	difficulty, _ := getStringArg(args, "difficulty")

	return t.client.CreateStudio(ctx, notebooklm.StudioRequest{
		NotebookID:   notebookID,
		ArtifactType: artifactType,
		Format:       format,
		Difficulty:   difficulty,
	})
}

// StudioStatusTool polls one artifact's generation progress.
type StudioStatusTool struct {
	client *notebooklm.Client
}

func (t *StudioStatusTool) Name() string { return "studio_status" }

func (t *StudioStatusTool) Description() string {
	return `Check the generation status of a studio artifact.

While the job started by studio_create is tracked, this polls it and
returns the job snapshot; a job that already finished answers from cache
without touching the browser. After a server restart the job is gone, so
the tool falls back to reading the artifact state directly.`
}

func (t *StudioStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook holding the artifact",
			},
			"artifact_id": map[string]interface{}{
				"type":        "string",
				"description": "Artifact to check",
			},
		},
		"required": []string{"notebook_id", "artifact_id"},
	}
}

func (t *StudioStatusTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	artifactID, _ := getStringArg(args, "artifact_id")

	if snap, ok := findJob(t.client.Tracker(), jobs.KindStudio, notebookID, artifactID); ok {
		return t.client.Tracker().Poll(ctx, snap.JobID)
	}
	return t.client.StudioStatus(ctx, notebookID, artifactID)
}

// DownloadArtifactTool saves a finished artifact's bytes to disk.
type DownloadArtifactTool struct {
	client *notebooklm.Client
}

func (t *DownloadArtifactTool) Name() string { return "download_artifact" }

func (t *DownloadArtifactTool) Description() string {
	return `Download a finished studio artifact to a local file.

The artifact's media URL is resolved through the authenticated page, so the
download works for content that plain HTTP clients cannot reach. Fails when
the artifact is not ready yet; check studio_status first.`
}

func (t *DownloadArtifactTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"notebook_id": map[string]interface{}{
				"type":        "string",
				"description": "Notebook holding the artifact",
			},
			"artifact_id": map[string]interface{}{
				"type":        "string",
				"description": "Artifact to download",
			},
			"artifact_type": map[string]interface{}{
				"type":        "string",
				"description": "Artifact kind, used to pick the download route",
			},
			"output_path": map[string]interface{}{
				"type":        "string",
				"description": "Local path to write the artifact bytes to",
			},
		},
		"required": []string{"notebook_id", "artifact_id", "artifact_type", "output_path"},
	}
}

func (t *DownloadArtifactTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	notebookID, _ := getStringArg(args, "notebook_id")
	artifactID, _ := getStringArg(args, "artifact_id")
	artifactType, _ := getStringArg(args, "artifact_type")
	outputPath, _ := getStringArg(args, "output_path")

	return t.client.DownloadArtifact(ctx, notebooklm.DownloadRequest{
		NotebookID:   notebookID,
		ArtifactID:   artifactID,
		ArtifactType: artifactType,
		OutputPath:   outputPath,
	})
}
