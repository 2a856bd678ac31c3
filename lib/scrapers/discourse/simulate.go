package discourse

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"forum-checkin/lib/pollutil"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

// LevelProfile controls how aggressively an account reads. Lower levels
// linger longer and like more; higher levels skim.
type LevelProfile struct {
	ScrollDelayMin time.Duration
	ScrollDelayMax time.Duration
	ReadTimeMin    time.Duration
	ReadTimeMax    time.Duration
	LikeChance     float64
	ScrollSteps    int
}

var levelProfiles = map[int]LevelProfile{
	1: {4 * time.Second, 6 * time.Second, 8 * time.Second, 15 * time.Second, 0.4, 4},
	2: {3 * time.Second, 5 * time.Second, 5 * time.Second, 10 * time.Second, 0.3, 3},
	3: {2 * time.Second, 4 * time.Second, 3 * time.Second, 6 * time.Second, 0.2, 2},
}

// ProfileForLevel returns the engagement profile for a level, defaulting
// to the middle profile for out-of-range values.
func ProfileForLevel(level int) LevelProfile {
	if p, ok := levelProfiles[level]; ok {
		return p
	}
	return levelProfiles[2]
}

// Browse modes reported in BrowseStats.
const (
	ModeBrowser = "browser"
	ModeHttp    = "http"
)

// BrowseStats summarizes one simulated browsing session.
type BrowseStats struct {
	Browsed   int
	Liked     int
	TotalTime time.Duration
	Mode      string
}

// Simulator drives engagement for one authenticated session. Sessions
// without a live browser are engaged over plain HTTP.
type Simulator struct {
	Session     *Session
	Level       int
	BrowseCount int
}

// sleep is swapped out in tests so simulated reading takes no wall time.
var sleep = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func sleepRange(ctx context.Context, min, max time.Duration) error {
	if max <= min {
		return sleep(ctx, min)
	}
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	return sleep(ctx, d)
}

// sampleTopics picks up to n distinct topics at random.
func sampleTopics(topics []TopicSummary, n int) []TopicSummary {
	if n > len(topics) {
		n = len(topics)
	}
	picked := make([]TopicSummary, len(topics))
	copy(picked, topics)
	rand.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})
	return picked[:n]
}

// Run simulates a browsing session. The browser path is preferred when a
// browser is available; if it fails before completing a single topic the
// simulator falls back to plain HTTP reads.
func (s *Simulator) Run(ctx context.Context) (BrowseStats, error) {
	ctx, span := tracer.Start(ctx, "simulator:Run")
	defer span.End()

	start := time.Now()
	account := s.Session.User.Username

	if s.Session.Browser != nil {
		stats, err := s.runBrowser(ctx)
		if err == nil {
			stats.TotalTime = time.Since(start)
			return stats, nil
		}
		slog.Warn("browser engagement failed, falling back to http", "account", account, "err", err)
		span.RecordError(err)
	}

	stats, err := s.runHttp(ctx)
	stats.TotalTime = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engagement failed")
		return stats, err
	}
	return stats, nil
}

const topicLinksScript = `
(function() {
	const links = document.querySelectorAll('a.title.raw-link, a.title[href*="/t/"]');
	const result = [];
	for (let i = 0; i < Math.min(links.length, 20); i++) {
		const a = links[i];
		if (a.href && a.href.includes('/t/')) {
			result.push(a.href);
		}
	}
	return result;
})()`

const likePostScript = `
(function() {
	const buttons = document.querySelectorAll(
		'button.like:not(.has-like), ' +
		'button[class*="like"]:not(.liked):not(.has-like), ' +
		'.post-controls button.toggle-like:not(.has-like)'
	);
	if (buttons.length === 0) {
		return false;
	}
	const i = Math.floor(Math.random() * Math.min(buttons.length, 3));
	buttons[i].click();
	return true;
})()`

func (s *Simulator) runBrowser(ctx context.Context) (BrowseStats, error) {
	ctx, span := tracer.Start(ctx, "simulator:runBrowser")
	defer span.End()

	profile := ProfileForLevel(s.Level)
	stats := BrowseStats{Mode: ModeBrowser}
	b := s.Session.Browser
	account := s.Session.User.Username

	err := b.Navigate(ctx, s.Session.Client.Site.BaseUrl+"/latest")
	if err != nil {
		return stats, fmt.Errorf("open topic listing: %w", err)
	}
	err = sleep(ctx, 5*time.Second)
	if err != nil {
		return stats, err
	}

	err = pollutil.Poll(ctx, time.Second, 10*time.Second, func(ctx context.Context) (bool, error) {
		return b.Exists(ctx, "a.title")
	})
	if err != nil {
		return stats, fmt.Errorf("topic listing never rendered: %w", err)
	}

	var links []string
	err = b.Evaluate(ctx, topicLinksScript, &links)
	if err != nil {
		return stats, fmt.Errorf("collect topic links: %w", err)
	}
	if len(links) == 0 {
		return stats, fmt.Errorf("no topic links found")
	}

	count := s.BrowseCount
	if count > len(links) {
		count = len(links)
	}
	rand.Shuffle(len(links), func(i, j int) {
		links[i], links[j] = links[j], links[i]
	})

	for i, link := range links[:count] {
		slog.Info("browsing topic", "account", account, "n", i+1, "total", count, "url", link)

		err := s.browseOneTopic(ctx, link, profile, &stats)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			slog.Warn("failed to browse topic", "account", account, "url", link, "err", err)
			if stats.Browsed == 0 {
				return stats, fmt.Errorf("browser mode failed on first topic: %w", err)
			}
			continue
		}
		stats.Browsed++
	}

	slog.Info("browser engagement finished", "account", account,
		"browsed", stats.Browsed, "liked", stats.Liked)
	return stats, nil
}

func (s *Simulator) browseOneTopic(ctx context.Context, link string, profile LevelProfile, stats *BrowseStats) error {
	b := s.Session.Browser

	err := b.Navigate(ctx, link)
	if err != nil {
		return err
	}
	err = sleepRange(ctx, 2*time.Second, 4*time.Second)
	if err != nil {
		return err
	}

	err = s.scrollAndRead(ctx, profile)
	if err != nil {
		return err
	}

	if rand.Float64() < profile.LikeChance {
		var liked bool
		err = b.Evaluate(ctx, likePostScript, &liked)
		if err == nil && liked {
			stats.Liked++
		}
	}
	return nil
}

func (s *Simulator) scrollAndRead(ctx context.Context, profile LevelProfile) error {
	b := s.Session.Browser

	for step := 0; step < profile.ScrollSteps; step++ {
		js := fmt.Sprintf(
			`window.scrollTo({top: document.body.scrollHeight * %f, behavior: 'smooth'}); true`,
			float64(step+1)/float64(profile.ScrollSteps),
		)
		var ok bool
		err := b.Evaluate(ctx, js, &ok)
		if err != nil {
			return err
		}
		err = sleepRange(ctx, profile.ScrollDelayMin, profile.ScrollDelayMax)
		if err != nil {
			return err
		}
	}

	// linger at the bottom like a reader finishing the thread
	return sleepRange(ctx, profile.ReadTimeMin/2, profile.ReadTimeMax)
}

func (s *Simulator) runHttp(ctx context.Context) (BrowseStats, error) {
	ctx, span := tracer.Start(ctx, "simulator:runHttp")
	defer span.End()

	stats := BrowseStats{Mode: ModeHttp}
	client := s.Session.Client
	account := s.Session.User.Username

	topics, err := client.LatestTopics(ctx)
	if err != nil {
		return stats, err
	}
	selected := sampleTopics(topics, s.BrowseCount)

	for i, topic := range selected {
		slog.Info("reading topic", "account", account, "n", i+1, "total", len(selected),
			"topic", topic.Id, "title", topic.Title)

		err := s.readOneTopic(ctx, topic.Id)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			slog.Warn("failed to read topic", "account", account, "topic", topic.Id, "err", err)
			continue
		}
		stats.Browsed++

		if i < len(selected)-1 {
			pause, err := random.IntRange(3, 8)
			if err != nil {
				pause = 5
			}
			err = sleep(ctx, time.Duration(pause)*time.Second)
			if err != nil {
				return stats, err
			}
		}
	}

	slog.Info("http engagement finished", "account", account, "browsed", stats.Browsed)
	return stats, nil
}

func (s *Simulator) readOneTopic(ctx context.Context, topicId int64) error {
	topic, err := s.Session.Client.Topic(ctx, topicId)
	if err != nil {
		return err
	}
	postNumbers := make([]int, 0, len(topic.Posts))
	for _, p := range topic.Posts {
		postNumbers = append(postNumbers, p.PostNumber)
	}
	return s.Session.Client.MarkRead(ctx, topicId, postNumbers)
}
