package browser

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Adapter is the low-level automation capability consumed by the product
// client. Implementations fail with *AutomationError so callers can
// distinguish timeouts, missing elements, and dead pages without knowing
// anything about Rod.
type Adapter interface {
	// Navigate drives the page to url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Click waits for selector and clicks it.
	Click(ctx context.Context, selector string) error
	// Fill waits for selector, clears it, and types text into it.
	Fill(ctx context.Context, selector, text string) error
	// ReadText waits for selector and returns its visible text.
	ReadText(ctx context.Context, selector string) (string, error)
	// WaitFor blocks until selector exists or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Eval runs a JS expression in the page and returns its stringified value.
	// The caller's context bounds it; no selector-wait timeout applies.
	Eval(ctx context.Context, js string) (string, error)
	// PageSource returns the current serialized DOM.
	PageSource(ctx context.Context) (string, error)
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Cookies returns the google-domain cookies visible to the page.
	Cookies(ctx context.Context) (map[string]string, error)
}

// pageAdapter implements Adapter over one live Rod page. The controller hands
// out a fresh value after every (re)start so a swapped page is never reused.
type pageAdapter struct {
	page        *rod.Page
	navTimeout  time.Duration
	waitTimeout time.Duration
}

func newPageAdapter(page *rod.Page, navTimeout, waitTimeout time.Duration) *pageAdapter {
	return &pageAdapter{page: page, navTimeout: navTimeout, waitTimeout: waitTimeout}
}

func (a *pageAdapter) Navigate(ctx context.Context, url string) error {
	p := a.page.Context(ctx).Timeout(a.navTimeout)
	if err := p.Navigate(url); err != nil {
		return classifyAutomationError("navigate", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return classifyAutomationError("navigate-wait-load", url, err)
	}
	return nil
}

func (a *pageAdapter) Click(ctx context.Context, selector string) error {
	el, err := a.page.Context(ctx).Timeout(a.waitTimeout).Element(selector)
	if err != nil {
		return classifyAutomationError("click", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return classifyAutomationError("click", selector, err)
	}
	return nil
}

func (a *pageAdapter) Fill(ctx context.Context, selector, text string) error {
	el, err := a.page.Context(ctx).Timeout(a.waitTimeout).Element(selector)
	if err != nil {
		return classifyAutomationError("fill", selector, err)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(text); err != nil {
		return classifyAutomationError("fill", selector, err)
	}
	return nil
}

func (a *pageAdapter) ReadText(ctx context.Context, selector string) (string, error) {
	el, err := a.page.Context(ctx).Timeout(a.waitTimeout).Element(selector)
	if err != nil {
		return "", classifyAutomationError("read-text", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", classifyAutomationError("read-text", selector, err)
	}
	return text, nil
}

func (a *pageAdapter) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = a.waitTimeout
	}
	if _, err := a.page.Context(ctx).Timeout(timeout).Element(selector); err != nil {
		return classifyAutomationError("wait-for", selector, err)
	}
	return nil
}

func (a *pageAdapter) Eval(ctx context.Context, js string) (string, error) {
	result, err := a.page.Context(ctx).Eval(js)
	if err != nil {
		return "", classifyAutomationError("eval", "", err)
	}
	return result.Value.Str(), nil
}

func (a *pageAdapter) PageSource(ctx context.Context) (string, error) {
	html, err := a.page.Context(ctx).HTML()
	if err != nil {
		return "", classifyAutomationError("page-source", "", err)
	}
	return html, nil
}

func (a *pageAdapter) CurrentURL(ctx context.Context) (string, error) {
	info, err := a.page.Context(ctx).Info()
	if err != nil {
		return "", classifyAutomationError("current-url", "", err)
	}
	return info.URL, nil
}

func (a *pageAdapter) Cookies(ctx context.Context) (map[string]string, error) {
	raw, err := a.page.Context(ctx).Cookies([]string{})
	if err != nil {
		return nil, classifyAutomationError("read-cookies", "", err)
	}
	cookies := make(map[string]string)
	for _, ck := range raw {
		if strings.Contains(ck.Domain, "google") {
			cookies[ck.Name] = ck.Value
		}
	}
	return cookies, nil
}
