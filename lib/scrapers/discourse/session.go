package discourse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"forum-checkin/lib/browser"
	"forum-checkin/lib/cookiestore"

	"go.opentelemetry.io/otel/codes"
)

var LoginFailed = fmt.Errorf("failed to establish a forum session")

// Account holds the credential material for one forum account. Any
// subset of the fields may be present; the acquirer works with whatever
// it is given.
type Account struct {
	// Name identifies the account in logs, reports and the cookie
	// cache. Falls back to Username when empty.
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Cookies are preset session cookies, tried before anything else.
	Cookies map[string]string `json:"cookies,omitempty"`
}

// Key returns the identifier used for logging and cookie caching.
func (a Account) Key() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Username
}

// How a session was established, in fallback order.
const (
	MethodPresetCookie = "preset_cookie"
	MethodCachedCookie = "cached_cookie"
	MethodBrowserLogin = "browser_login"
)

// Session is a validated, ready-to-use forum session. Browser is non-nil
// only when the session came from an interactive login; it stays open so
// engagement can continue in the already-authenticated browser.
type Session struct {
	Client        *Client
	User          User
	Cookies       map[string]string
	Method        string
	EstablishedAt time.Time
	Browser       browser.Browser
}

// Close releases the session's browser, if it still holds one.
func (s *Session) Close() error {
	if s.Browser == nil {
		return nil
	}
	err := s.Browser.Close()
	s.Browser = nil
	return err
}

// Acquirer turns an Account into a validated Session, trying the
// cheapest credential source first: preset cookies, then the on-disk
// cookie cache, then a full interactive browser login.
type Acquirer struct {
	Site       Site
	Store      *cookiestore.Store
	NewBrowser browser.Factory
}

// validate builds a client over the cookie set and confirms the forum
// recognizes it.
func (a *Acquirer) validate(ctx context.Context, cookies map[string]string) (*Client, User, error) {
	client, err := NewClient(ctx, a.Site)
	if err != nil {
		return nil, User{}, err
	}
	client.SetCookies(cookies)

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, User{}, err
	}
	return client, user, nil
}

func (a *Acquirer) session(client *Client, user User, cookies map[string]string, method string) *Session {
	return &Session{
		Client:        client,
		User:          user,
		Cookies:       cookies,
		Method:        method,
		EstablishedAt: time.Now(),
	}
}

// Acquire establishes a validated session for the account. Each layer
// that fails is logged and the next one is tried; the returned error
// aggregates every failed layer when none succeeds.
func (a *Acquirer) Acquire(ctx context.Context, account Account) (*Session, error) {
	ctx, span := tracer.Start(ctx, "acquirer:Acquire")
	defer span.End()

	key := account.Key()
	if key == "" {
		return nil, fmt.Errorf("account has neither name nor username")
	}
	var attempts []error

	if len(account.Cookies) > 0 {
		client, user, err := a.validate(ctx, account.Cookies)
		if err == nil {
			slog.Info("session established", "account", key, "method", MethodPresetCookie, "user", user.Username)
			return a.session(client, user, account.Cookies, MethodPresetCookie), nil
		}
		slog.Warn("preset cookies rejected", "account", key, "err", err)
		attempts = append(attempts, fmt.Errorf("%s: %w", MethodPresetCookie, err))
	}

	if a.Store != nil {
		entry, ok, err := a.Store.Get(key)
		if err != nil {
			slog.Warn("cookie cache unreadable", "account", key, "err", err)
		} else if ok {
			client, user, err := a.validate(ctx, entry.Cookies)
			if err == nil {
				slog.Info("session established", "account", key, "method", MethodCachedCookie,
					"user", user.Username, "age", entry.Age().Round(time.Minute))
				return a.session(client, user, entry.Cookies, MethodCachedCookie), nil
			}
			// rejected entries are left for the expiry sweep; a later
			// browser login overwrites them anyway
			slog.Warn("cached cookies rejected", "account", key, "err", err)
			attempts = append(attempts, fmt.Errorf("%s: %w", MethodCachedCookie, err))
		}
	}

	if account.Username != "" && account.Password != "" && a.NewBrowser != nil {
		session, err := a.browserLogin(ctx, key, account)
		if err == nil {
			return session, nil
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", MethodBrowserLogin, err))
	}

	if len(attempts) == 0 {
		err := fmt.Errorf("%w: account %q has no usable credentials", LoginFailed, key)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	err := fmt.Errorf("%w: every credential layer failed for %q: %w", LoginFailed, key, errors.Join(attempts...))
	span.RecordError(err)
	span.SetStatus(codes.Error, "session acquisition failed")
	return nil, err
}

func (a *Acquirer) browserLogin(ctx context.Context, key string, account Account) (*Session, error) {
	ctx, span := tracer.Start(ctx, "acquirer:browserLogin")
	defer span.End()

	b, err := a.NewBrowser(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to launch browser")
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	cookies, err := LoginWithBrowser(ctx, b, a.Site, account.Username, account.Password)
	if err != nil {
		b.Close()
		return nil, err
	}

	client, user, err := a.validate(ctx, cookies)
	if err != nil {
		b.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fresh login cookies failed validation")
		return nil, fmt.Errorf("validate fresh cookies: %w", err)
	}

	slog.Info("session established", "account", key, "method", MethodBrowserLogin, "user", user.Username)
	a.cache(key, user.Username, cookies)
	session := a.session(client, user, cookies, MethodBrowserLogin)
	session.Browser = b
	return session, nil
}

func (a *Acquirer) cache(key, username string, cookies map[string]string) {
	if a.Store == nil {
		return
	}
	err := a.Store.Put(key, username, cookies)
	if err != nil {
		slog.Warn("failed to cache session cookies", "account", key, "err", err)
	}
}
