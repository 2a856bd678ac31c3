package discourse

import (
	"context"
	"testing"
	"time"

	"forum-checkin/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func stubSleep(t *testing.T) {
	original := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = original })
}

func TestProfilesSlowDownAtLowerLevels(t *testing.T) {
	l1 := ProfileForLevel(1)
	l2 := ProfileForLevel(2)
	l3 := ProfileForLevel(3)

	require.GreaterOrEqual(t, l1.ScrollDelayMin, l2.ScrollDelayMin)
	require.GreaterOrEqual(t, l2.ScrollDelayMin, l3.ScrollDelayMin)
	require.GreaterOrEqual(t, l1.ReadTimeMax, l2.ReadTimeMax)
	require.GreaterOrEqual(t, l2.ReadTimeMax, l3.ReadTimeMax)
	require.GreaterOrEqual(t, l1.LikeChance, l2.LikeChance)
	require.GreaterOrEqual(t, l2.LikeChance, l3.LikeChance)
	require.GreaterOrEqual(t, l1.ScrollSteps, l2.ScrollSteps)
	require.GreaterOrEqual(t, l2.ScrollSteps, l3.ScrollSteps)
}

func TestProfileForLevelOutOfRange(t *testing.T) {
	require.Equal(t, ProfileForLevel(2), ProfileForLevel(0))
	require.Equal(t, ProfileForLevel(2), ProfileForLevel(99))
}

func TestSampleTopicsBounds(t *testing.T) {
	topics := []TopicSummary{{Id: 1}, {Id: 2}, {Id: 3}}

	picked := sampleTopics(topics, 2)
	require.Len(t, picked, 2)

	picked = sampleTopics(topics, 10)
	require.Len(t, picked, 3)

	seen := map[int64]bool{}
	for _, topic := range picked {
		require.False(t, seen[topic.Id])
		seen[topic.Id] = true
	}
}

func newHttpSimulator(t *testing.T, forum *fakeForum, browseCount int) *Simulator {
	ctx := context.Background()
	client, err := NewClient(ctx, forum.site())
	require.NoError(t, err)
	client.SetCookies(validCookies(forum))

	return &Simulator{
		Session: &Session{
			Client: client,
			User:   User{Username: "tester"},
		},
		Level:       2,
		BrowseCount: browseCount,
	}
}

func TestRunHttpMarksTopicsRead(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()
	stubSleep(t)
	forum := newFakeForum(t)

	sim := newHttpSimulator(t, forum, 3)
	stats, err := sim.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeHttp, stats.Mode)
	require.Equal(t, 3, stats.Browsed)

	forum.mu.Lock()
	defer forum.mu.Unlock()
	require.Len(t, forum.timings, 3)
}

func TestRunHttpSkipsFailingTopic(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()
	stubSleep(t)
	forum := newFakeForum(t)
	forum.topicsBroken[102] = true

	sim := newHttpSimulator(t, forum, 3)
	stats, err := sim.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Browsed)
}

func TestRunHttpRespectsBrowseCount(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()
	stubSleep(t)
	forum := newFakeForum(t)

	sim := newHttpSimulator(t, forum, 1)
	stats, err := sim.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Browsed)
}

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	original := sleep
	recorded := &[]time.Duration{}
	sleep = func(ctx context.Context, d time.Duration) error {
		*recorded = append(*recorded, d)
		return nil
	}
	t.Cleanup(func() { sleep = original })
	return recorded
}

func TestScrollAndReadDwellBounds(t *testing.T) {
	recorded := recordSleeps(t)
	fake := newFakeBrowser("https://forum.example/", nil)
	sim := &Simulator{Session: &Session{Browser: fake}, Level: 1}
	profile := ProfileForLevel(1)

	require.NoError(t, sim.scrollAndRead(context.Background(), profile))
	require.Len(t, *recorded, profile.ScrollSteps+1)

	for _, d := range (*recorded)[:profile.ScrollSteps] {
		require.GreaterOrEqual(t, d, profile.ScrollDelayMin)
		require.LessOrEqual(t, d, profile.ScrollDelayMax)
	}

	// the bottom dwell runs up to the full read time
	dwell := (*recorded)[profile.ScrollSteps]
	require.GreaterOrEqual(t, dwell, profile.ReadTimeMin/2)
	require.LessOrEqual(t, dwell, profile.ReadTimeMax)
}

func TestIsChallengeTitle(t *testing.T) {
	cases := []struct {
		title     string
		challenge bool
	}{
		{"Just a moment...", true},
		{"Checking your browser before accessing", true},
		{"Please Wait", true},
		{"Verifying you are human", true},
		{"Something went wrong", true},
		{"Linux Do - 新生", false},
		{"Latest topics", false},
	}
	for _, c := range cases {
		require.Equal(t, c.challenge, isChallengeTitle(c.title), c.title)
	}
}
