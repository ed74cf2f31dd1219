package notebooklm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"notebooklm-mcp-server/internal/browser"
	"notebooklm-mcp-server/internal/jobs"
	"notebooklm-mcp-server/internal/queue"
)

// Artifact types the studio surface can generate.
var ValidArtifactTypes = []string{
	"audio", "video", "report", "quiz",
	"flashcards", "mind_map", "slide_deck", "infographic", "data_table",
}

// Difficulty levels for quiz-style artifacts.
var ValidDifficulties = []string{"easy", "medium", "hard"}

// ErrArtifactNotReady means the artifact has no download URL yet.
var ErrArtifactNotReady = errors.New("artifact is not ready for download")

// StudioRequest describes one artifact to generate.
type StudioRequest struct {
	NotebookID   string
	ArtifactType string
	Format       string
	Difficulty   string
}

// StudioArtifact is the generation status of one artifact.
type StudioArtifact struct {
	ArtifactID  string `json:"artifact_id"`
	NotebookID  string `json:"notebook_id,omitempty"`
	Type        string `json:"type,omitempty"`
	Status      string `json:"status"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error_message,omitempty"`
}

// DownloadRequest names one ready artifact to fetch.
type DownloadRequest struct {
	NotebookID   string
	ArtifactID   string
	ArtifactType string
	OutputPath   string
}

// DownloadResult reports where the artifact bytes went.
type DownloadResult struct {
	ArtifactID    string `json:"artifact_id"`
	ArtifactType  string `json:"artifact_type,omitempty"`
	Status        string `json:"status"`
	Path          string `json:"path,omitempty"`
	ContentLength int    `json:"content_length,omitempty"`
}

// CreateStudio starts generation of an artifact and registers a studio job
// that follows it from queued through ready. The snapshot's target is the new
// artifact id.
func (c *Client) CreateStudio(ctx context.Context, req StudioRequest) (jobs.Snapshot, error) {
	if req.Difficulty == "" {
		req.Difficulty = "medium"
	}
	data, err := c.write(ctx, "studio_create", "create_studio", map[string]interface{}{
		"notebook_id":   req.NotebookID,
		"artifact_type": req.ArtifactType,
		"format":        req.Format,
		"difficulty":    req.Difficulty,
	})
	if err != nil {
		return jobs.Snapshot{}, err
	}
	artifactID := stringField(data, "artifact_id")
	if artifactID == "" {
		return jobs.Snapshot{}, &RemoteError{Action: "create_studio", Message: "response carried no artifact id"}
	}
	snap := c.tracker.Start(jobs.KindStudio, req.NotebookID, artifactID, c.studioPoll(req.NotebookID, artifactID))
	return snap, nil
}

// studioPoll builds the generation probe for one artifact.
func (c *Client) studioPoll(notebookID, artifactID string) jobs.PollFunc {
	return func(ctx context.Context) (jobs.Observation, error) {
		artifact, err := c.StudioStatus(ctx, notebookID, artifactID)
		if err != nil {
			return jobs.Observation{}, err
		}
		return studioObservation(artifact), nil
	}
}

// studioObservation maps the studio status vocabulary onto the generation
// pipeline. The download URL rides along once the artifact is ready.
func studioObservation(a *StudioArtifact) jobs.Observation {
	obs := jobs.Observation{Message: a.Error}
	switch strings.ToLower(a.Status) {
	case "", "pending", "created":
		obs.State = jobs.StatePending
	case "queued", "waiting":
		obs.State = jobs.StateQueued
	case "generating", "processing", "rendering":
		obs.State = jobs.StateProcessing
	case "ready", "complete", "completed":
		obs.State = jobs.StateReady
		obs.Result = map[string]interface{}{
			"artifact_id": a.ArtifactID,
		}
		if a.DownloadURL != "" {
			obs.Result["download_url"] = a.DownloadURL
		}
	case "failed", "error":
		obs.State = jobs.StateFailed
		if obs.Message == "" {
			obs.Message = "generation failed"
		}
	default:
		obs.State = jobs.StateProcessing
	}
	return obs
}

// StudioStatus fetches the live generation status of one artifact.
func (c *Client) StudioStatus(ctx context.Context, notebookID, artifactID string) (*StudioArtifact, error) {
	data, err := c.read(ctx, "studio_status", "studio_status", map[string]interface{}{
		"notebook_id": notebookID,
		"artifact_id": artifactID,
	})
	if err != nil {
		return nil, err
	}
	var artifact StudioArtifact
	if err := decodeInto(data, &artifact); err != nil {
		return nil, err
	}
	if artifact.ArtifactID == "" {
		artifact.ArtifactID = artifactID
	}
	return &artifact, nil
}

// DownloadArtifact fetches a ready artifact's bytes through the session. With
// an output path the file lands on disk; without one only the size is
// reported, which is enough to confirm the artifact is intact. The status
// probe and the transfer share one read-lane slot so the URL cannot go stale
// between them.
func (c *Client) DownloadArtifact(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	op := queue.NewOperation(queue.KindRead, "artifact_download", c.readDeadline, func(opCtx context.Context) (interface{}, error) {
		return c.withPage(opCtx, func(pageCtx context.Context, adapter browser.Adapter, csrf string) (interface{}, error) {
			data, err := callAction(pageCtx, adapter, csrf, "studio_status", map[string]interface{}{
				"notebook_id": req.NotebookID,
				"artifact_id": req.ArtifactID,
			})
			if err != nil {
				return nil, err
			}
			url := stringField(data, "download_url")
			if url == "" {
				return nil, fmt.Errorf("artifact %s: %w", req.ArtifactID, ErrArtifactNotReady)
			}
			return fetchBinary(pageCtx, adapter, url)
		})
	})
	value, err := c.queue.Do(ctx, op)
	if err != nil {
		return nil, err
	}
	content, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("artifact_download: unexpected payload type %T", value)
	}

	result := &DownloadResult{
		ArtifactID:    req.ArtifactID,
		ArtifactType:  req.ArtifactType,
		ContentLength: len(content),
	}
	if req.OutputPath == "" {
		result.Status = "ready"
		return result, nil
	}
	if dir := filepath.Dir(req.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(req.OutputPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	result.Status = "downloaded"
	result.Path = req.OutputPath
	return result, nil
}
