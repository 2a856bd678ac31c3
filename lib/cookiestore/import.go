package cookiestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/chrome"
	_ "github.com/browserutils/kooky/browser/chromium"
	_ "github.com/browserutils/kooky/browser/edge"
	_ "github.com/browserutils/kooky/browser/firefox"
	_ "github.com/browserutils/kooky/browser/opera"
)

// ImportFromBrowser reads cookies for the given domain out of a locally
// installed browser's cookie database and saves them into the store under
// key. When browserName is non-empty only that browser is consulted.
// Returns the number of cookies imported.
func (s *Store) ImportFromBrowser(ctx context.Context, key, domain, browserName string) (int, error) {
	cookies, err := kooky.ReadCookies(ctx, kooky.DomainHasSuffix(domain))
	if err != nil {
		return 0, fmt.Errorf("read cookies from browser: %w", err)
	}

	browserName = strings.ToLower(browserName)
	found := map[string]string{}
	for _, cookie := range cookies {
		if browserName != "" {
			if cookie.Browser == nil {
				continue
			}
			if !strings.Contains(strings.ToLower(cookie.Browser.Browser()), browserName) {
				continue
			}
		}
		found[cookie.Name] = cookie.Value
	}
	if len(found) == 0 {
		return 0, fmt.Errorf("no cookies found for domain %q", domain)
	}

	err = s.Put(key, "", found)
	if err != nil {
		return 0, err
	}
	return len(found), nil
}
