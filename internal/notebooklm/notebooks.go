package notebooklm

import (
	"context"
)

// Notebook is one notebook as the product reports it.
type Notebook struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SourceCount int    `json:"source_count"`
	URL         string `json:"url"`
	IsOwned     bool   `json:"is_owned"`
	IsShared    bool   `json:"is_shared"`
	CreatedAt   string `json:"created_at,omitempty"`
	ModifiedAt  string `json:"modified_at,omitempty"`
}

// NotebookDetails is a notebook plus its source listing.
type NotebookDetails struct {
	Notebook
	Sources []Source `json:"sources"`
}

// NotebookOverview is the AI-generated summary surface of a notebook.
type NotebookOverview struct {
	NotebookID         string   `json:"notebook_id"`
	Title              string   `json:"title,omitempty"`
	Summary            string   `json:"summary"`
	SuggestedQuestions []string `json:"suggested_questions,omitempty"`
}

// ListNotebooks returns every notebook visible to the signed-in account.
func (c *Client) ListNotebooks(ctx context.Context) ([]Notebook, error) {
	data, err := c.read(ctx, "notebook_list", "list_notebooks", nil)
	if err != nil {
		return nil, err
	}
	var notebooks []Notebook
	if raw, ok := data["notebooks"]; ok {
		if err := decodeInto(raw, &notebooks); err != nil {
			return nil, err
		}
	}
	return notebooks, nil
}

// CreateNotebook creates an empty notebook. Description may be empty.
func (c *Client) CreateNotebook(ctx context.Context, name, description string) (*Notebook, error) {
	data, err := c.write(ctx, "notebook_create", "create_notebook", map[string]interface{}{
		"name":        name,
		"description": description,
	})
	if err != nil {
		return nil, err
	}
	return notebookFrom(data)
}

// GetNotebook returns one notebook with its sources.
func (c *Client) GetNotebook(ctx context.Context, notebookID string) (*NotebookDetails, error) {
	data, err := c.read(ctx, "notebook_get", "get_notebook", map[string]interface{}{
		"notebook_id": notebookID,
	})
	if err != nil {
		return nil, err
	}
	var details NotebookDetails
	if err := decodeInto(data, &details); err != nil {
		return nil, err
	}
	if details.ID == "" {
		details.ID = notebookID
	}
	return &details, nil
}

// DescribeNotebook returns the product's AI summary and suggested questions.
func (c *Client) DescribeNotebook(ctx context.Context, notebookID string) (*NotebookOverview, error) {
	data, err := c.read(ctx, "notebook_describe", "describe_notebook", map[string]interface{}{
		"notebook_id": notebookID,
	})
	if err != nil {
		return nil, err
	}
	var overview NotebookOverview
	if err := decodeInto(data, &overview); err != nil {
		return nil, err
	}
	if overview.NotebookID == "" {
		overview.NotebookID = notebookID
	}
	return &overview, nil
}

// RenameNotebook sets a new title and returns the updated notebook.
func (c *Client) RenameNotebook(ctx context.Context, notebookID, name string) (*Notebook, error) {
	data, err := c.write(ctx, "notebook_rename", "rename_notebook", map[string]interface{}{
		"notebook_id": notebookID,
		"name":        name,
	})
	if err != nil {
		return nil, err
	}
	nb, err := notebookFrom(data)
	if err != nil {
		return nil, err
	}
	if nb.ID == "" {
		nb.ID = notebookID
	}
	if nb.Title == "" {
		nb.Title = name
	}
	return nb, nil
}

// DeleteNotebook permanently removes a notebook. The confirmation guard lives
// at the tool layer; by the time this runs the caller has already confirmed.
func (c *Client) DeleteNotebook(ctx context.Context, notebookID string) error {
	_, err := c.write(ctx, "notebook_delete", "delete_notebook", map[string]interface{}{
		"notebook_id": notebookID,
	})
	return err
}

// notebookFrom pulls a notebook out of a payload that carries it either under
// a "notebook" key or as top-level fields.
func notebookFrom(data map[string]interface{}) (*Notebook, error) {
	raw := interface{}(data)
	if nested, ok := data["notebook"]; ok {
		raw = nested
	}
	var nb Notebook
	if err := decodeInto(raw, &nb); err != nil {
		return nil, err
	}
	return &nb, nil
}
