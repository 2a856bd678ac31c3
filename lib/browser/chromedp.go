package browser

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Options controls how the Chrome instance is launched.
type Options struct {
	// Headless runs Chrome without a visible window. Logins through
	// interactive challenges usually need Headless to be false.
	Headless bool
	// UserAgent overrides the browser user agent when non-empty.
	UserAgent string
	// UserDataDir persists the Chrome profile between runs when
	// non-empty, which lets challenge clearances carry over.
	UserDataDir string
}

type chromeBrowser struct {
	ctx     context.Context
	cancels []context.CancelFunc
}

// NewChrome launches a Chrome instance via chromedp and returns a
// Browser bound to a single tab.
func NewChrome(ctx context.Context, opts Options) (Browser, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("start-maximized", true),
	)
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// force the browser process to start now so launch failures surface
	// here instead of on the first navigation
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	return &chromeBrowser{
		ctx:     tabCtx,
		cancels: []context.CancelFunc{cancelTab, cancelAlloc},
	}, nil
}

func (b *chromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := b.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(b.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (b *chromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *chromeBrowser) Title(ctx context.Context) (string, error) {
	var title string
	err := b.run(ctx, chromedp.Title(&title))
	return title, err
}

func (b *chromeBrowser) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := b.run(ctx, chromedp.Location(&url))
	return url, err
}

func (b *chromeBrowser) Reload(ctx context.Context) error {
	return b.run(ctx, chromedp.Reload())
}

func (b *chromeBrowser) Evaluate(ctx context.Context, js string, out any) error {
	if out == nil {
		var discard any
		out = &discard
	}
	return b.run(ctx, chromedp.Evaluate(js, out))
}

func (b *chromeBrowser) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	js := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return el !== null && el.offsetParent !== null; })()`,
		selector,
	)
	err := b.run(ctx, chromedp.Evaluate(js, &found))
	return found, err
}

func (b *chromeBrowser) Text(ctx context.Context, selector string) (string, error) {
	var text string
	js := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return el ? el.textContent : ""; })()`,
		selector,
	)
	err := b.run(ctx, chromedp.Evaluate(js, &text))
	return text, err
}

func (b *chromeBrowser) SendKeys(ctx context.Context, selector, text string) error {
	return b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (b *chromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (b *chromeBrowser) PressEnter(ctx context.Context) error {
	return b.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (b *chromeBrowser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var out []*http.Cookie
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, &http.Cookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
				Secure: c.Secure,
			})
		}
		return nil
	}))
	return out, err
}

func (b *chromeBrowser) Close() error {
	for _, cancel := range b.cancels {
		cancel()
	}
	return nil
}
