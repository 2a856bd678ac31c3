package discourse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

// TopicSummary is one row of a topic listing.
type TopicSummary struct {
	Id    int64  `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

// Post is one post inside a topic, identified by its position.
type Post struct {
	Id         int64 `json:"id"`
	PostNumber int   `json:"post_number"`
}

// Topic is a topic with its leading posts.
type Topic struct {
	Id    int64  `json:"id"`
	Title string `json:"title"`
	Posts []Post
}

var topicHrefRegex = regexp.MustCompile(`/t/[^/]+/(\d+)`)

// LatestTopics fetches the most recent topic listing. The JSON endpoint
// is tried first; when the response is not parseable JSON (some
// anti-bot layers serve HTML to API paths) the HTML listing is scraped
// instead.
func (c *Client) LatestTopics(ctx context.Context) ([]TopicSummary, error) {
	ctx, span := tracer.Start(ctx, "client:LatestTopics")
	defer span.End()

	var res *resty.Response
	err := retry.Do(func() error {
		r, err := c.Http.R().
			SetContext(ctx).
			Get("/latest.json")
		if err != nil {
			return err
		}
		res = r
		return nil
	},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch latest topics")
		return nil, err
	}

	var body struct {
		TopicList struct {
			Topics []TopicSummary `json:"topics"`
		} `json:"topic_list"`
	}
	err = json.Unmarshal(res.Body(), &body)
	if err == nil && len(body.TopicList.Topics) > 0 {
		return body.TopicList.Topics, nil
	}

	topics, htmlErr := c.latestTopicsFromHtml(ctx)
	if htmlErr != nil {
		span.RecordError(htmlErr)
		span.SetStatus(codes.Error, "both json and html topic listings failed")
		return nil, fmt.Errorf("topic listing unavailable: json: %v, html: %w", err, htmlErr)
	}
	return topics, nil
}

func (c *Client) latestTopicsFromHtml(ctx context.Context) ([]TopicSummary, error) {
	ctx, span := tracer.Start(ctx, "client:latestTopicsFromHtml")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("accept", "text/html").
		Get("/latest")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch html listing")
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html listing")
		return nil, err
	}

	var topics []TopicSummary
	seen := map[int64]bool{}
	doc.Find(`a.title[href*="/t/"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		groups := topicHrefRegex.FindStringSubmatch(href)
		if len(groups) < 2 {
			return
		}
		id, err := strconv.ParseInt(groups[1], 10, 64)
		if err != nil || seen[id] {
			return
		}
		seen[id] = true
		topics = append(topics, TopicSummary{
			Id:    id,
			Title: strings.TrimSpace(sel.Text()),
		})
	})
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics found in html listing")
	}
	return topics, nil
}

// Topic fetches a single topic with its leading posts.
func (c *Client) Topic(ctx context.Context, id int64) (Topic, error) {
	ctx, span := tracer.Start(ctx, "client:Topic")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/t/%d.json", id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch topic")
		return Topic{}, err
	}
	if res.StatusCode() != http.StatusOK {
		err := fmt.Errorf("topic %d returned status %d", id, res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return Topic{}, err
	}

	var body struct {
		Id         int64  `json:"id"`
		Title      string `json:"title"`
		PostStream struct {
			Posts []Post `json:"posts"`
		} `json:"post_stream"`
	}
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse topic")
		return Topic{}, err
	}
	return Topic{
		Id:    body.Id,
		Title: body.Title,
		Posts: body.PostStream.Posts,
	}, nil
}

const (
	minTopicTimeMs = 5000
	maxTopicTimeMs = 30000
	timingJitterMs = 500
	minTimingMs    = 1000
	maxTimedPosts  = 5
)

// buildTimings produces the form payload for /topics/timings: a random
// overall topic time split across the first few posts, each share
// jittered so no two posts report identical durations.
func buildTimings(topicId int64, postNumbers []int) (map[string]string, error) {
	topicTime, err := random.IntRange(minTopicTimeMs, maxTopicTimeMs)
	if err != nil {
		return nil, err
	}

	form := map[string]string{
		"topic_id":   strconv.FormatInt(topicId, 10),
		"topic_time": strconv.Itoa(topicTime),
	}
	if len(postNumbers) > maxTimedPosts {
		postNumbers = postNumbers[:maxTimedPosts]
	}
	perPost := topicTime
	if len(postNumbers) > 0 {
		perPost = topicTime / len(postNumbers)
	}
	for _, n := range postNumbers {
		jitter, err := random.IntRange(-timingJitterMs, timingJitterMs)
		if err != nil {
			return nil, err
		}
		t := perPost + jitter
		if t < minTimingMs {
			t = minTimingMs
		}
		form[fmt.Sprintf("timings[%d]", n)] = strconv.Itoa(t)
	}
	return form, nil
}

// MarkRead reports reading time for a topic, which is what advances the
// forum's visit and read counters.
func (c *Client) MarkRead(ctx context.Context, topicId int64, postNumbers []int) error {
	ctx, span := tracer.Start(ctx, "client:MarkRead")
	defer span.End()

	form, err := buildTimings(topicId, postNumbers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build timings payload")
		return err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/topics/timings")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post timings")
		return err
	}
	if res.StatusCode() != http.StatusOK {
		err := fmt.Errorf("timings for topic %d returned status %d", topicId, res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return err
	}
	return nil
}
