package history

import (
	"context"
	"testing"
	"time"

	"forum-checkin/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRecordAndLastStatus(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:history")()

	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	now := time.Now()
	err = store.Record(ctx, "run-1", now, []Outcome{
		{Platform: "linuxdo", Account: "alice", Status: "success", Message: "browsed 3"},
		{Platform: "linuxdo", Account: "bob", Status: "failed", Message: "login failed"},
	})
	require.NoError(t, err)

	err = store.Record(ctx, "run-2", now.Add(time.Hour), []Outcome{
		{Platform: "linuxdo", Account: "alice", Status: "failed", Message: "challenge"},
	})
	require.NoError(t, err)

	// run-2 should see run-1's statuses as the previous ones
	status, err := store.LastStatus(ctx, "run-2", "linuxdo", "alice")
	require.NoError(t, err)
	require.Equal(t, "success", status)

	status, err = store.LastStatus(ctx, "run-2", "linuxdo", "bob")
	require.NoError(t, err)
	require.Equal(t, "failed", status)

	status, err = store.LastStatus(ctx, "run-2", "linuxdo", "nobody")
	require.NoError(t, err)
	require.Equal(t, "", status)
}

func TestRunOutcomesOrdered(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:history")()

	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	outcomes := []Outcome{
		{Platform: "linuxdo", Account: "a", Status: "success"},
		{Platform: "linuxdo", Account: "b", Status: "skipped"},
		{Platform: "linuxdo", Account: "c", Status: "failed"},
	}
	require.NoError(t, store.Record(ctx, "run-9", time.Now(), outcomes))

	got, err := store.RunOutcomes(ctx, "run-9")
	require.NoError(t, err)

	diff := cmp.Diff(outcomes, got)
	if diff != "" {
		t.Fatal(diff)
	}
}
