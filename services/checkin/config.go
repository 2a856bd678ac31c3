// Package checkin orchestrates daily forum check-ins: it establishes a
// session per configured account, simulates engagement, and aggregates
// the outcomes into a report.
package checkin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"forum-checkin/lib/configutil"
	"forum-checkin/lib/cookiestore"
	"forum-checkin/lib/notify"
	"forum-checkin/lib/scrapers/discourse"
)

// AccountsEnv overrides the configured account list with a JSON array,
// which is how credentials are injected in CI-style deployments.
const AccountsEnv = "CHECKIN_ACCOUNTS"

const (
	defaultBrowseCount = 5
	defaultLevel       = 2
)

// AccountConfig is one account as it appears in the config file.
type AccountConfig struct {
	Name     string            `json:"name,omitempty"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Cookies  map[string]string `json:"cookies,omitempty"`
	// BrowseEnabled defaults to true when omitted.
	BrowseEnabled *bool `json:"browse_enabled,omitempty"`
	BrowseCount   int   `json:"browse_count,omitempty"`
	// Level 1 reads slowly and likes often, level 3 skims. Clamped to 1-3.
	Level int `json:"level,omitempty"`
}

func (a AccountConfig) browseEnabled() bool {
	return a.BrowseEnabled == nil || *a.BrowseEnabled
}

func (a AccountConfig) account() discourse.Account {
	return discourse.Account{
		Name:     a.Name,
		Username: a.Username,
		Password: a.Password,
		Cookies:  a.Cookies,
	}
}

// normalize fills defaults and reports whether the account carries any
// usable credential material.
func (a *AccountConfig) normalize(index int) error {
	if a.Name == "" {
		if a.Username != "" {
			a.Name = a.Username
		} else {
			a.Name = fmt.Sprintf("Account %d", index+1)
		}
	}
	if len(a.Cookies) == 0 && (a.Username == "" || a.Password == "") {
		return fmt.Errorf("account %q has neither cookies nor a username/password pair", a.Name)
	}
	if a.BrowseCount <= 0 {
		a.BrowseCount = defaultBrowseCount
	}
	if a.Level < 1 {
		a.Level = defaultLevel
	}
	if a.Level > 3 {
		a.Level = 3
	}
	return nil
}

type NotifyConfig struct {
	Enabled bool `json:"enabled"`
	notify.SmtpConfig
}

// SkippedAccount is an account dropped at config time. The runner still
// reports it so a broken config entry shows up in the summary instead
// of vanishing.
type SkippedAccount struct {
	Name   string
	Reason string
}

type Config struct {
	Site     discourse.Site  `json:"site"`
	Accounts []AccountConfig `json:"accounts"`
	// CacheDir holds the persisted cookie files.
	CacheDir string `json:"cache_dir,omitempty"`
	// CookieTtlDays bounds how long cached cookies stay usable.
	CookieTtlDays int `json:"cookie_ttl_days,omitempty"`
	// Headless controls the login browser. Interactive challenges often
	// require a headful browser, so this defaults to false.
	Headless bool `json:"headless,omitempty"`
	// HistoryFile is the sqlite database tracking past runs.
	HistoryFile string        `json:"history_file,omitempty"`
	Notify      *NotifyConfig `json:"notify,omitempty"`
	// SkippedAccounts is filled by LoadConfig, never read from the file.
	SkippedAccounts []SkippedAccount `json:"-"`
}

func defaultSite() discourse.Site {
	return discourse.Site{
		Name:        "linuxdo",
		BaseUrl:     "https://linux.do",
		TitleMarker: "linux",
	}
}

// LoadConfig reads the config file, applies the CHECKIN_ACCOUNTS
// environment override, fills defaults, and drops malformed accounts
// with a warning. An empty resulting account list is an error.
func LoadConfig(path string) (Config, error) {
	config, err := configutil.ReadConfig[Config](path)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}
	missingFile := os.IsNotExist(err)

	if raw := os.Getenv(AccountsEnv); raw != "" {
		var accounts []AccountConfig
		err := json.Unmarshal([]byte(raw), &accounts)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", AccountsEnv, err)
		}
		config.Accounts = accounts
		missingFile = false
	}
	if missingFile {
		return Config{}, fmt.Errorf("no config file at %q and %s is unset", path, AccountsEnv)
	}

	if config.Site.BaseUrl == "" {
		config.Site = defaultSite()
	}
	if config.CacheDir == "" {
		config.CacheDir = ".cookie-cache"
	}
	if config.CookieTtlDays <= 0 {
		config.CookieTtlDays = int(cookiestore.DefaultTTL.Hours() / 24)
	}

	valid := config.Accounts[:0]
	for i := range config.Accounts {
		account := config.Accounts[i]
		err := account.normalize(i)
		if err != nil {
			slog.Warn("skipping malformed account", "index", i, "err", err)
			config.SkippedAccounts = append(config.SkippedAccounts, SkippedAccount{
				Name:   account.Name,
				Reason: err.Error(),
			})
			continue
		}
		valid = append(valid, account)
	}
	config.Accounts = valid

	if len(config.Accounts) == 0 {
		return Config{}, fmt.Errorf("no usable accounts configured")
	}
	return config, nil
}
