// Package browser abstracts the headless browser operations needed to
// drive an interactive forum login. The interface is deliberately small:
// navigation, DOM queries, form input and cookie extraction, nothing else.
package browser

import (
	"context"
	"net/http"
)

// Browser is a live browser session. Implementations are not safe for
// concurrent use; drive one login at a time per instance.
type Browser interface {
	// Navigate loads the given url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Title returns the current page title.
	Title(ctx context.Context) (string, error)
	// CurrentURL returns the location of the current page.
	CurrentURL(ctx context.Context) (string, error)
	// Reload reloads the current page.
	Reload(ctx context.Context) error
	// Evaluate runs a javascript expression in the page and unmarshals
	// its result into out. Pass nil to discard the result.
	Evaluate(ctx context.Context, js string, out any) error
	// Exists reports whether at least one visible element matches the
	// css selector.
	Exists(ctx context.Context, selector string) (bool, error)
	// Text returns the text content of the first element matching the
	// css selector, or "" when no element matches.
	Text(ctx context.Context, selector string) (string, error)
	// SendKeys clears the first element matching the css selector and
	// types text into it.
	SendKeys(ctx context.Context, selector, text string) error
	// Click clicks the first element matching the css selector.
	Click(ctx context.Context, selector string) error
	// PressEnter sends an Enter keypress to the focused element.
	PressEnter(ctx context.Context) error
	// Cookies returns all cookies visible to the current page.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// Close tears down the browser session.
	Close() error
}

// Factory creates a fresh Browser. The session acquirer only pays the
// cost of launching a browser when cookie based authentication fails.
type Factory func(ctx context.Context) (Browser, error)
