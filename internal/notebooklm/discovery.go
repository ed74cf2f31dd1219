package notebooklm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"notebooklm-mcp-server/internal/browser"
	"notebooklm-mcp-server/internal/queue"
)

const defaultBaseURL = "https://notebooklm.google.com"

// probeWait bounds each selector candidate so a redesigned page cannot eat
// the whole operation deadline.
const probeWait = 3 * time.Second

// The product renames its UI hooks between releases, so the probe tries a
// ladder of candidates instead of one canonical selector.
var (
	researchTriggerSelectors = []string{
		"[data-action='research']",
		"[aria-label*='Find']",
		"[aria-label*='Research']",
		"button[aria-label*='source']",
	}
	researchSearchSelectors = []string{
		"input[placeholder*='search']",
		"input[placeholder*='Search']",
		"[role='searchbox']",
	}
)

// submitSearchScript presses Enter on whichever element holds focus after the
// search box is filled. The typed adapter has no key synthesis, so the page
// dispatches the events itself.
const submitSearchScript = `() => {
	const el = document.activeElement;
	if (!el) {
		return "no-focus";
	}
	for (const type of ["keydown", "keypress", "keyup"]) {
		el.dispatchEvent(new KeyboardEvent(type, {key: "Enter", code: "Enter", keyCode: 13, bubbles: true}));
	}
	if (el.form && el.form.requestSubmit) {
		el.form.requestSubmit();
	}
	return "sent";
}`

// DiscoveryProbe reports what the research UI probe managed to drive.
type DiscoveryProbe struct {
	NotebookID string `json:"notebook_id"`
	URL        string `json:"url"`
	Clicked    string `json:"clicked,omitempty"`
	Searched   bool   `json:"searched"`
}

// ProbeResearchUI opens a notebook and drives the source-discovery surface so
// the traffic observer can record the RPC ids behind it. Best effort: a
// missing trigger is a finding, not a failure. Rides the write lane because
// it steers the shared page.
func (c *Client) ProbeResearchUI(ctx context.Context, notebookID, searchQuery string) (*DiscoveryProbe, error) {
	op := queue.NewOperation(queue.KindWrite, "research_ui_probe", c.writeDeadline, func(opCtx context.Context) (interface{}, error) {
		return c.withPage(opCtx, func(pageCtx context.Context, adapter browser.Adapter, _ string) (interface{}, error) {
			target := notebookURL(c.baseURL, notebookID)
			if err := adapter.Navigate(pageCtx, target); err != nil {
				return nil, err
			}
			probe := &DiscoveryProbe{NotebookID: notebookID, URL: target}

			for _, selector := range researchTriggerSelectors {
				if err := adapter.WaitFor(pageCtx, selector, probeWait); err != nil {
					continue
				}
				if err := adapter.Click(pageCtx, selector); err != nil {
					continue
				}
				probe.Clicked = selector
				break
			}
			if probe.Clicked == "" || searchQuery == "" {
				return probe, nil
			}

			for _, selector := range researchSearchSelectors {
				if err := adapter.WaitFor(pageCtx, selector, probeWait); err != nil {
					continue
				}
				if err := adapter.Fill(pageCtx, selector, searchQuery); err != nil {
					continue
				}
				if _, err := adapter.Eval(pageCtx, submitSearchScript); err != nil {
					c.logger.Debug("search submit dispatch failed", zap.Error(err))
				} else {
					probe.Searched = true
				}
				break
			}
			return probe, nil
		})
	})
	value, err := c.queue.Do(ctx, op)
	if err != nil {
		return nil, err
	}
	probe, ok := value.(*DiscoveryProbe)
	if !ok {
		return nil, fmt.Errorf("research_ui_probe: unexpected payload type %T", value)
	}
	return probe, nil
}

// notebookURL builds the product page URL for one notebook.
func notebookURL(baseURL, notebookID string) string {
	return strings.TrimRight(baseURL, "/") + "/notebook/" + notebookID
}
