package ixgest

import (
	"context"

	"github.com/mmcdole/gofeed"

	"github.com/tidemark/conflux/errors"
	"github.com/tidemark/conflux/internal/httpclient"
	"github.com/tidemark/conflux/resilience"
	"github.com/tidemark/conflux/store"
)

// RSSSource ingests a syndication feed. One fetch per run, under the
// source's rate limit and retry policy.
type RSSSource struct {
	feedURL string
	client  *httpclient.Client
	limiter *resilience.Registry
	retry   resilience.Policy
	parser  *gofeed.Parser
}

// NewRSSSource creates an adapter for one feed URL.
func NewRSSSource(feedURL string, client *httpclient.Client,
	limiter *resilience.Registry, retry resilience.Policy) *RSSSource {
	return &RSSSource{
		feedURL: feedURL,
		client:  client,
		limiter: limiter,
		retry:   retry,
		parser:  gofeed.NewParser(),
	}
}

func (s *RSSSource) Name() string { return "rss" }

// ExpectedSchema declares the feed-item shape for drift detection.
func (s *RSSSource) ExpectedSchema() map[string]string {
	return map[string]string{
		"guid":        "string",
		"title":       "string",
		"link":        "string",
		"description": "string",
		"published":   "string",
	}
}

func (s *RSSSource) Fetch(ctx context.Context) ([]RawItem, error) {
	if err := s.limiter.Wait(ctx, s.Name()); err != nil {
		return nil, err
	}

	var body []byte
	err := s.retry.Do(ctx, "fetch feed", func() error {
		var fetchErr error
		body, fetchErr = s.client.GetBody(ctx, s.feedURL)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	feed, err := s.parser.ParseString(string(body))
	if err != nil {
		return nil, errors.Wrapf(err, "parse feed %s", s.feedURL)
	}

	items := make([]RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		fields := map[string]interface{}{
			"title":       entry.Title,
			"link":        entry.Link,
			"description": entry.Description,
			"published":   entry.Published,
		}
		if entry.GUID != "" {
			fields["guid"] = entry.GUID
		}
		if len(entry.Categories) > 0 {
			fields["categories"] = entry.Categories
		}

		timestamp := ParseTimestamp(entry.PublishedParsed)
		if timestamp == nil {
			timestamp = ParseTimestamp(entry.Published)
		}
		items = append(items, RawItem{Fields: fields, Timestamp: timestamp})
	}
	return items, nil
}

func (s *RSSSource) SourceKey(item RawItem) string {
	return DeriveSourceKey(s.Name(), item.Fields)
}

func (s *RSSSource) Normalize(item RawItem) (*store.NormalizedRecord, error) {
	title := fieldString(item.Fields, "title")
	if title == "" {
		return nil, errors.NewValidationError("feed item has no title")
	}

	tags := stringSlice(item.Fields["categories"])
	category := ""
	if len(tags) > 0 {
		category = tags[0]
	}

	return &store.NormalizedRecord{
		Title:           title,
		Description:     fieldString(item.Fields, "description"),
		Category:        category,
		Tags:            tags,
		SourceTimestamp: item.Timestamp,
	}, nil
}
