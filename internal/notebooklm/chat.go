package notebooklm

import (
	"context"
)

// Response length settings accepted by configure_chat.
var ValidResponseLengths = []string{"short", "medium", "long"}

// Citation points an answer fragment back at a source.
type Citation struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// QueryResult is one grounded answer from the notebook's chat surface.
type QueryResult struct {
	NotebookID string     `json:"notebook_id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations,omitempty"`
}

// ChatConfig mirrors the notebook's chat settings panel.
type ChatConfig struct {
	NotebookID     string `json:"notebook_id"`
	Goal           string `json:"goal,omitempty"`
	ResponseLength string `json:"response_length,omitempty"`
}

// Query asks the notebook's AI about its sources. The question becomes part
// of the conversation, so it runs on the write lane like any other mutation.
func (c *Client) Query(ctx context.Context, notebookID, question string) (*QueryResult, error) {
	data, err := c.write(ctx, "notebook_query", "query", map[string]interface{}{
		"notebook_id": notebookID,
		"query":       question,
	})
	if err != nil {
		return nil, err
	}
	var result QueryResult
	if err := decodeInto(data, &result); err != nil {
		return nil, err
	}
	result.NotebookID = notebookID
	result.Question = question
	return &result, nil
}

// ConfigureChat updates the notebook's conversation goal and response length.
func (c *Client) ConfigureChat(ctx context.Context, cfg ChatConfig) (*ChatConfig, error) {
	if cfg.ResponseLength == "" {
		cfg.ResponseLength = "medium"
	}
	data, err := c.write(ctx, "chat_configure", "configure_chat", map[string]interface{}{
		"notebook_id":     cfg.NotebookID,
		"goal":            cfg.Goal,
		"response_length": cfg.ResponseLength,
	})
	if err != nil {
		return nil, err
	}
	updated := ChatConfig{
		NotebookID:     cfg.NotebookID,
		Goal:           stringField(data, "goal"),
		ResponseLength: stringField(data, "response_length"),
	}
	if updated.Goal == "" {
		updated.Goal = cfg.Goal
	}
	if updated.ResponseLength == "" {
		updated.ResponseLength = cfg.ResponseLength
	}
	return &updated, nil
}
