package discourse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"forum-checkin/lib/telemetry"

	"github.com/stretchr/testify/require"
)

// fakeForum is an httptest stand-in for a Discourse instance. A session
// is authenticated when the _t cookie matches validToken.
type fakeForum struct {
	mu           sync.Mutex
	validToken   string
	topics       []TopicSummary
	posts        map[int64][]Post
	timings      []map[string][]string
	topicsBroken map[int64]bool
	server       *httptest.Server
}

func newFakeForum(t *testing.T) *fakeForum {
	f := &fakeForum{
		validToken: "valid-token",
		topics: []TopicSummary{
			{Id: 101, Title: "first topic"},
			{Id: 102, Title: "second topic"},
			{Id: 103, Title: "third topic"},
		},
		posts: map[int64][]Post{
			101: {{Id: 1, PostNumber: 1}, {Id: 2, PostNumber: 2}},
			102: {{Id: 3, PostNumber: 1}},
			103: {{Id: 4, PostNumber: 1}, {Id: 5, PostNumber: 2}, {Id: 6, PostNumber: 3}},
		},
		topicsBroken: map[int64]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/session/current.json", f.handleCurrentSession)
	mux.HandleFunc("/latest.json", f.handleLatest)
	mux.HandleFunc("/t/", f.handleTopic)
	mux.HandleFunc("/topics/timings", f.handleTimings)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeForum) site() Site {
	return Site{
		Name:    "testforum",
		BaseUrl: f.server.URL,
	}
}

func (f *fakeForum) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie("_t")
	return err == nil && cookie.Value == f.validToken
}

func (f *fakeForum) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	if !f.authenticated(r) {
		http.Error(w, `{"errors":["not logged in"]}`, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"current_user": map[string]any{
			"id":       7,
			"username": "tester",
			"name":     "Tester",
		},
	})
}

func (f *fakeForum) handleLatest(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]any{
		"topic_list": map[string]any{"topics": f.topics},
	})
}

func (f *fakeForum) handleTopic(w http.ResponseWriter, r *http.Request) {
	var id int64
	_, err := fmt.Sscanf(r.URL.Path, "/t/%d.json", &id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	broken := f.topicsBroken[id]
	posts, ok := f.posts[id]
	f.mu.Unlock()

	if broken || !ok {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"id":          id,
		"title":       "topic " + strconv.FormatInt(id, 10),
		"post_stream": map[string]any{"posts": posts},
	})
}

func (f *fakeForum) handleTimings(w http.ResponseWriter, r *http.Request) {
	if !f.authenticated(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.timings = append(f.timings, r.PostForm)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func validCookies(f *fakeForum) map[string]string {
	return map[string]string{
		"_t":             f.validToken,
		"_forum_session": "csrf-value",
	}
}

func TestCurrentUserValidCookies(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()
	forum := newFakeForum(t)
	ctx := context.Background()

	client, err := NewClient(ctx, forum.site())
	require.NoError(t, err)
	client.SetCookies(validCookies(forum))

	user, err := client.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "tester", user.Username)
}

func TestCurrentUserInvalidCookies(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()
	forum := newFakeForum(t)
	ctx := context.Background()

	client, err := NewClient(ctx, forum.site())
	require.NoError(t, err)
	client.SetCookies(map[string]string{"_t": "garbage"})

	_, err = client.CurrentUser(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSetCookiesInstallsCsrfHeader(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()
	forum := newFakeForum(t)
	ctx := context.Background()

	client, err := NewClient(ctx, forum.site())
	require.NoError(t, err)
	client.SetCookies(validCookies(forum))

	require.Equal(t, "csrf-value", client.Http.Header.Get("x-csrf-token"))
}

func TestLatestTopics(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()
	forum := newFakeForum(t)
	ctx := context.Background()

	client, err := NewClient(ctx, forum.site())
	require.NoError(t, err)
	client.SetCookies(validCookies(forum))

	topics, err := client.LatestTopics(ctx)
	require.NoError(t, err)
	require.Len(t, topics, 3)
	require.Equal(t, int64(101), topics[0].Id)
}

func TestTopicAndMarkRead(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()
	forum := newFakeForum(t)
	ctx := context.Background()

	client, err := NewClient(ctx, forum.site())
	require.NoError(t, err)
	client.SetCookies(validCookies(forum))

	topic, err := client.Topic(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, int64(101), topic.Id)
	require.Len(t, topic.Posts, 2)

	postNumbers := []int{1, 2}
	require.NoError(t, client.MarkRead(ctx, 101, postNumbers))

	forum.mu.Lock()
	defer forum.mu.Unlock()
	require.Len(t, forum.timings, 1)
	form := forum.timings[0]
	require.Equal(t, []string{"101"}, form["topic_id"])

	topicTime, err := strconv.Atoi(form["topic_time"][0])
	require.NoError(t, err)
	require.GreaterOrEqual(t, topicTime, minTopicTimeMs)
	require.LessOrEqual(t, topicTime, maxTopicTimeMs)
}

func TestBuildTimingsBounds(t *testing.T) {
	postNumbers := []int{1, 2, 3, 4, 5, 6, 7, 8}
	form, err := buildTimings(42, postNumbers)
	require.NoError(t, err)

	require.Equal(t, "42", form["topic_id"])
	topicTime, err := strconv.Atoi(form["topic_time"])
	require.NoError(t, err)
	require.GreaterOrEqual(t, topicTime, minTopicTimeMs)
	require.LessOrEqual(t, topicTime, maxTopicTimeMs)

	timingKeys := 0
	timingSum := 0
	for key, value := range form {
		if key == "topic_id" || key == "topic_time" {
			continue
		}
		timingKeys++
		v, err := strconv.Atoi(value)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, minTimingMs)
		timingSum += v
	}
	require.Equal(t, maxTimedPosts, timingKeys)

	// the topic time is split across the timed posts, so the per-post
	// values sum back to roughly the total
	slack := maxTimedPosts * (timingJitterMs + 1)
	require.InDelta(t, topicTime, timingSum, float64(slack))
}

func TestLatestTopicsHtmlFallback(t *testing.T) {
	defer telemetry.SetupForTesting(t, "discourse-test")()

	mux := http.NewServeMux()
	mux.HandleFunc("/latest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>challenge page</html>"))
	})
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a class="title" href="/t/some-topic/555">Some topic</a>
			<a class="title" href="/t/another/556">Another</a>
			<a class="title" href="/t/another/556">Duplicate</a>
		</body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	client, err := NewClient(ctx, Site{Name: "html", BaseUrl: server.URL})
	require.NoError(t, err)

	topics, err := client.LatestTopics(ctx)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.Equal(t, int64(555), topics[0].Id)
	require.Equal(t, "Some topic", topics[0].Title)
}
