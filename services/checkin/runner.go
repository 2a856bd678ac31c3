package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"forum-checkin/lib/browser"
	"forum-checkin/lib/cookiestore"
	"forum-checkin/lib/notify"
	"forum-checkin/lib/scrapers/discourse"
	"forum-checkin/services/checkin/history"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/checkin")

// Runner executes one full check-in run over every configured account,
// strictly one account at a time.
type Runner struct {
	Config     Config
	Store      *cookiestore.Store
	History    *history.Store
	Notifier   notify.Notifier
	NewBrowser browser.Factory
}

// NewRunner wires a Runner from config, creating the cookie store and
// history database it needs.
func NewRunner(config Config) (*Runner, error) {
	store, err := cookiestore.New(config.CacheDir, cookiestore.Options{
		TTL: time.Duration(config.CookieTtlDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}

	runner := &Runner{
		Config: config,
		Store:  store,
		NewBrowser: func(ctx context.Context) (browser.Browser, error) {
			return browser.NewChrome(ctx, browser.Options{
				Headless: config.Headless,
			})
		},
	}

	if config.HistoryFile != "" {
		hist, err := history.Open(config.HistoryFile)
		if err != nil {
			return nil, err
		}
		runner.History = hist
	}
	if config.Notify != nil && config.Notify.Enabled {
		runner.Notifier = notify.NewEmailNotifier(config.Notify.SmtpConfig)
	}
	return runner, nil
}

// Close releases the runner's history database.
func (r *Runner) Close() error {
	if r.History != nil {
		return r.History.Close()
	}
	return nil
}

// Run checks in every account and returns the aggregated summary. An
// account failing never aborts the rest; the error return is reserved
// for context cancellation.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "runner:Run")
	defer span.End()

	runId, err := random.String(12)
	if err != nil {
		runId = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	summary := Summary{
		RunId:   runId,
		Started: time.Now(),
		Changed: map[string]string{},
	}

	slog.Info("starting check-in run", "run", runId,
		"site", r.Config.Site.Name, "accounts", len(r.Config.Accounts))

	for _, skipped := range r.Config.SkippedAccounts {
		summary.Results = append(summary.Results,
			skippedResult(r.Config.Site.Name, skipped.Name, skipped.Reason))
	}

	for i, account := range r.Config.Accounts {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "run cancelled")
			return summary, ctx.Err()
		}

		slog.Info("processing account", "run", runId,
			"n", i+1, "total", len(r.Config.Accounts), "account", account.Name)

		result := r.runOne(ctx, account)
		summary.Results = append(summary.Results, result)

		slog.Info("account finished", "account", account.Name,
			"status", result.Status, "message", result.Message)
	}
	summary.Finished = time.Now()

	r.recordHistory(ctx, &summary)
	r.sendReport(ctx, summary)

	slog.Info("check-in run finished", "run", runId,
		"success", summary.Successes(), "failed", summary.Failures(), "skipped", summary.Skipped())
	return summary, nil
}

func (r *Runner) runOne(ctx context.Context, account AccountConfig) Result {
	ctx, span := tracer.Start(ctx, "runner:runOne")
	defer span.End()

	platform := r.Config.Site.Name

	acquirer := &discourse.Acquirer{
		Site:       r.Config.Site,
		Store:      r.Store,
		NewBrowser: r.NewBrowser,
	}
	session, err := acquirer.Acquire(ctx, account.account())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session acquisition failed")
		return failedResult(platform, account.Name, err.Error())
	}
	defer session.Close()

	details := map[string]string{
		"method": session.Method,
		"user":   session.User.Username,
	}

	if !account.browseEnabled() {
		return successResult(platform, account.Name, "authenticated, browsing disabled", details)
	}

	simulator := &discourse.Simulator{
		Session:     session,
		Level:       account.Level,
		BrowseCount: account.BrowseCount,
	}
	stats, err := simulator.Run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engagement failed")
		if stats.Browsed == 0 {
			// nothing got read at all, the check-in made no progress
			return failedResult(platform, account.Name,
				fmt.Sprintf("authenticated via %s but browsing made no progress: %v", session.Method, err))
		}
		details["browse_error"] = err.Error()
		details["browsed"] = fmt.Sprintf("%d", stats.Browsed)
		return successResult(platform, account.Name,
			fmt.Sprintf("authenticated via %s, browsing cut short after %d topics", session.Method, stats.Browsed), details)
	}

	details["mode"] = stats.Mode
	details["browsed"] = fmt.Sprintf("%d", stats.Browsed)
	details["liked"] = fmt.Sprintf("%d", stats.Liked)
	message := fmt.Sprintf("browsed %d topics, liked %d (L%d, %s)",
		stats.Browsed, stats.Liked, account.Level, stats.Mode)
	return successResult(platform, account.Name, message, details)
}

func (r *Runner) recordHistory(ctx context.Context, summary *Summary) {
	if r.History == nil {
		return
	}

	outcomes := make([]history.Outcome, len(summary.Results))
	for i, result := range summary.Results {
		outcomes[i] = history.Outcome{
			Platform: result.Platform,
			Account:  result.Account,
			Status:   result.Status,
			Message:  result.Message,
		}

		previous, err := r.History.LastStatus(ctx, summary.RunId, result.Platform, result.Account)
		if err != nil {
			slog.Warn("failed to read account history", "account", result.Account, "err", err)
			continue
		}
		if previous != "" && previous != result.Status {
			summary.Changed[result.Account] = fmt.Sprintf("%s -> %s", previous, result.Status)
		}
	}

	err := r.History.Record(ctx, summary.RunId, summary.Started, outcomes)
	if err != nil {
		slog.Warn("failed to record run history", "run", summary.RunId, "err", err)
	}
}

func (r *Runner) sendReport(ctx context.Context, summary Summary) {
	if r.Notifier == nil {
		return
	}

	subject := fmt.Sprintf("Check-in report: %d ok, %d failed",
		summary.Successes(), summary.Failures())
	err := r.Notifier.Send(ctx, subject, summary.RenderText(), summary.RenderHtml())
	if err != nil {
		slog.Warn("failed to send report", "err", err)
	}
}
