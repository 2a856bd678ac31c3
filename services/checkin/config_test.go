package checkin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "checkin.json5")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{
		accounts: [
			{username: "alice", password: "pw"},
		],
	}`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "linuxdo", config.Site.Name)
	require.Equal(t, "https://linux.do", config.Site.BaseUrl)
	require.Equal(t, ".cookie-cache", config.CacheDir)
	require.Equal(t, 7, config.CookieTtlDays)

	account := config.Accounts[0]
	require.Equal(t, "alice", account.Name)
	require.Equal(t, defaultLevel, account.Level)
	require.Equal(t, defaultBrowseCount, account.BrowseCount)
	require.True(t, account.browseEnabled())
}

func TestLoadConfigSkipsMalformedAccounts(t *testing.T) {
	path := writeConfig(t, `{
		accounts: [
			{username: "no-password"},
			{username: "ok", password: "pw"},
			{name: "cookie-only", cookies: {"_t": "abc"}},
		],
	}`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, config.Accounts, 2)
	require.Equal(t, "ok", config.Accounts[0].Name)
	require.Equal(t, "cookie-only", config.Accounts[1].Name)

	// dropped accounts are kept so the runner can report them as skipped
	require.Len(t, config.SkippedAccounts, 1)
	require.Equal(t, "no-password", config.SkippedAccounts[0].Name)
	require.NotEmpty(t, config.SkippedAccounts[0].Reason)
}

func TestLoadConfigAllMalformed(t *testing.T) {
	path := writeConfig(t, `{
		accounts: [
			{username: "no-password"},
		],
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json5"))
	require.Error(t, err)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `{
		accounts: [
			{username: "fromfile", password: "pw"},
		],
	}`)

	t.Setenv(AccountsEnv, `[{"username": "fromenv", "password": "pw", "level": 9}]`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, config.Accounts, 1)
	require.Equal(t, "fromenv", config.Accounts[0].Name)
	// out-of-range levels clamp instead of failing
	require.Equal(t, 3, config.Accounts[0].Level)
}

func TestLoadConfigEnvOnly(t *testing.T) {
	t.Setenv(AccountsEnv, `[{"name": "env", "cookies": {"_t": "x"}}]`)

	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)
	require.Len(t, config.Accounts, 1)
	require.Equal(t, "env", config.Accounts[0].Name)
}

func TestLoadConfigBadEnvJson(t *testing.T) {
	path := writeConfig(t, `{accounts: [{username: "a", password: "b"}]}`)
	t.Setenv(AccountsEnv, `not json`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestAccountConfigBrowseDisabled(t *testing.T) {
	disabled := false
	account := AccountConfig{
		Name:          "x",
		Cookies:       map[string]string{"_t": "y"},
		BrowseEnabled: &disabled,
	}
	require.NoError(t, account.normalize(0))
	require.False(t, account.browseEnabled())
}

func TestAccountConfigFallbackName(t *testing.T) {
	account := AccountConfig{Cookies: map[string]string{"_t": "y"}}
	require.NoError(t, account.normalize(4))
	require.Equal(t, "Account 5", account.Name)
}
