package discourse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"forum-checkin/lib/browser"
	"forum-checkin/lib/pollutil"

	"go.opentelemetry.io/otel/codes"
)

// phrases that show up in the title of an interstitial challenge page.
var challengeTitles = []string{
	"just a moment",
	"checking your browser",
	"please wait",
	"verifying",
	"something went wrong",
}

// selectors tried in order when locating the login form fields.
var (
	usernameSelectors = []string{
		"#login-account-name",
		`input[name="login"]`,
		`input[type="text"]`,
	}
	passwordSelectors = []string{
		"#login-account-password",
		`input[type="password"]`,
	}
	submitSelectors = []string{
		"#login-button",
		"#signin-button",
		`button[type="submit"]`,
		`input[type="submit"]`,
	}
	loginErrorSelectors = []string{
		".alert-error",
		".error",
		"#error-message",
		".flash-error",
		".login-error",
		"#login-error",
		`[class*="error"]`,
	}
)

const (
	challengePollInterval = 2 * time.Second
	challengeTimeout      = 30 * time.Second
	challengeReloadAfter  = 20 * time.Second
	loginSettleDelay      = 3 * time.Second
	loginFormInterval     = time.Second
	loginFormTimeout      = 10 * time.Second
	loginResultTimeout    = 60 * time.Second
	fieldPauseMin         = 300 * time.Millisecond
	fieldPauseMax         = 800 * time.Millisecond
)

func isChallengeTitle(title string) bool {
	title = strings.ToLower(title)
	for _, phrase := range challengeTitles {
		if strings.Contains(title, phrase) {
			return true
		}
	}
	return false
}

// waitForChallenge polls the page title until the interstitial challenge
// has cleared. One reload is attempted late in the window in case the
// challenge wedged itself.
func waitForChallenge(ctx context.Context, b browser.Browser, site Site) error {
	ctx, span := tracer.Start(ctx, "waitForChallenge")
	defer span.End()

	marker := strings.ToLower(site.TitleMarker)
	start := time.Now()
	reloaded := false

	err := pollutil.Poll(ctx, challengePollInterval, challengeTimeout, func(ctx context.Context) (bool, error) {
		title, err := b.Title(ctx)
		if err != nil {
			return false, err
		}
		slog.Debug("challenge wait", "site", site.Name, "title", title)

		if !isChallengeTitle(title) {
			if marker == "" || strings.Contains(strings.ToLower(title), marker) {
				return true, nil
			}
		}

		if !reloaded && time.Since(start) > challengeReloadAfter {
			reloaded = true
			slog.Info("challenge still up, reloading once", "site", site.Name)
			return false, b.Reload(ctx)
		}
		return false, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "challenge did not clear")
		return fmt.Errorf("challenge did not clear: %w", err)
	}
	return nil
}

// waitForLoginForm polls until the username input has rendered. The
// login form is client-side rendered, so it can lag the navigation by
// several seconds.
func waitForLoginForm(ctx context.Context, b browser.Browser) error {
	err := pollutil.Poll(ctx, loginFormInterval, loginFormTimeout, func(ctx context.Context) (bool, error) {
		for _, sel := range usernameSelectors {
			ok, err := b.Exists(ctx, sel)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("login form never rendered: %w", err)
	}
	return nil
}

// fillFirst clicks the first selector from candidates that exists on
// the page and types text into it.
func fillFirst(ctx context.Context, b browser.Browser, candidates []string, text string) error {
	for _, sel := range candidates {
		ok, err := b.Exists(ctx, sel)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		err = b.Click(ctx, sel)
		if err != nil {
			return err
		}
		return b.SendKeys(ctx, sel, text)
	}
	return fmt.Errorf("no matching element for selectors %v", candidates)
}

// submitLogin clicks the first submit control that exists, falling back
// to an Enter keypress when the page renders no recognizable button.
func submitLogin(ctx context.Context, b browser.Browser) error {
	for _, sel := range submitSelectors {
		ok, err := b.Exists(ctx, sel)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		return b.Click(ctx, sel)
	}
	slog.Debug("no submit button found, pressing enter")
	return b.PressEnter(ctx)
}

// scanLoginErrors looks for a visible error element and returns its text.
func scanLoginErrors(ctx context.Context, b browser.Browser) string {
	for _, sel := range loginErrorSelectors {
		ok, err := b.Exists(ctx, sel)
		if err != nil || !ok {
			continue
		}
		text, err := b.Text(ctx, sel)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text
		}
	}
	return ""
}

// waitForLoginResult waits until the browser has navigated off the login
// page. Visible error banners are checked periodically so a rejected
// password fails fast instead of burning the whole window.
func waitForLoginResult(ctx context.Context, b browser.Browser) error {
	ctx, span := tracer.Start(ctx, "waitForLoginResult")
	defer span.End()

	iteration := 0
	err := pollutil.Poll(ctx, time.Second, loginResultTimeout, func(ctx context.Context) (bool, error) {
		iteration++

		url, err := b.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		if !strings.Contains(url, "/login") {
			return true, nil
		}

		if iteration%5 == 0 {
			if msg := scanLoginErrors(ctx, b); msg != "" {
				return false, pollutil.Unrecoverable(fmt.Errorf("login rejected: %s", msg))
			}
		}
		return false, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login did not complete")
		return err
	}
	return nil
}

// LoginWithBrowser performs an interactive username/password login
// through a real browser and returns the resulting cookie set. The
// forum root is visited first so any interstitial challenge triggers
// and clears before the login page is opened.
func LoginWithBrowser(ctx context.Context, b browser.Browser, site Site, username, password string) (map[string]string, error) {
	ctx, span := tracer.Start(ctx, "LoginWithBrowser")
	defer span.End()

	err := b.Navigate(ctx, site.BaseUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open forum root")
		return nil, err
	}

	err = waitForChallenge(ctx, b, site)
	if err != nil {
		return nil, err
	}

	err = b.Navigate(ctx, site.LoginUrl())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open login page")
		return nil, err
	}
	err = sleep(ctx, loginSettleDelay)
	if err != nil {
		return nil, err
	}
	err = waitForLoginForm(ctx, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login form never rendered")
		return nil, err
	}

	err = fillFirst(ctx, b, usernameSelectors, username)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fill username")
		return nil, fmt.Errorf("fill username: %w", err)
	}
	err = sleepRange(ctx, fieldPauseMin, fieldPauseMax)
	if err != nil {
		return nil, err
	}
	err = fillFirst(ctx, b, passwordSelectors, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fill password")
		return nil, fmt.Errorf("fill password: %w", err)
	}
	err = submitLogin(ctx, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit login form")
		return nil, fmt.Errorf("submit login: %w", err)
	}

	err = waitForLoginResult(ctx, b)
	if err != nil {
		return nil, err
	}

	rawCookies, err := b.Cookies(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to harvest cookies")
		return nil, err
	}
	cookies := map[string]string{}
	for _, c := range rawCookies {
		cookies[c.Name] = c.Value
	}
	slog.Info("browser login succeeded", "site", site.Name, "username", username, "cookies", len(cookies))
	return cookies, nil
}
