package commands

import (
	"log/slog"
	"os"
	"time"

	"forum-checkin/lib/cookiestore"
	"forum-checkin/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	cacheDir      string
	ttlDays       int
	importDomain  string
	importBrowser string
)

func init() {
	cookiesCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", ".cookie-cache", "Directory holding cached cookies.")
	cookiesCmd.PersistentFlags().IntVar(&ttlDays, "ttl-days", 7, "Days before cached cookies expire.")
	cookiesImportCmd.Flags().StringVar(&importDomain, "domain", "linux.do", "Cookie domain suffix to import.")
	cookiesImportCmd.Flags().StringVar(&importBrowser, "browser", "", "Only import from this browser (chrome, firefox, ...).")

	cookiesCmd.AddCommand(cookiesListCmd)
	cookiesCmd.AddCommand(cookiesImportCmd)
	rootCmd.AddCommand(cookiesCmd)
}

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Inspect and populate the cookie cache.",
}

func openStore() *cookiestore.Store {
	store, err := cookiestore.New(cacheDir, cookiestore.Options{
		TTL: time.Duration(ttlDays) * 24 * time.Hour,
	})
	if err != nil {
		serviceutil.Fatal("failed to open cookie store", err)
	}
	return store
}

var cookiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists cached cookie entries, sweeping out expired ones.",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := openStore().ListValid()
		if err != nil {
			serviceutil.Fatal("failed to list cookie cache", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Account", "Username", "Cookies", "Age"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.Key,
				e.Entry.Username,
				len(e.Entry.Cookies),
				e.Entry.Age().Round(time.Minute),
			})
		}
		t.Render()
	},
}

var cookiesImportCmd = &cobra.Command{
	Use:   "import <account>",
	Short: "Imports forum cookies for an account from a locally installed browser.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		account := args[0]

		count, err := openStore().ImportFromBrowser(cmd.Context(), account, importDomain, importBrowser)
		if err != nil {
			serviceutil.Fatal("failed to import cookies", err)
		}
		slog.Info("imported cookies", "account", account, "domain", importDomain, "count", count)
	},
}
