package ixgest

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tidemark/conflux/config"
	"github.com/tidemark/conflux/errors"
	"github.com/tidemark/conflux/internal/httpclient"
	"github.com/tidemark/conflux/resilience"
	"github.com/tidemark/conflux/store"
)

const defaultPageSize = 100

// APISource ingests a paginated JSON API. Pages are fetched
// sequentially under the source's rate limit, each fetch wrapped by
// the retry policy; pagination stops at the first short or empty page.
type APISource struct {
	name     string
	baseURL  string
	apiKey   string
	pageSize int
	client   *httpclient.Client
	limiter  *resilience.Registry
	retry    resilience.Policy
}

// apiPage is the wire shape of one page.
type apiPage struct {
	Data []map[string]interface{} `json:"data"`
}

// NewAPISource creates an adapter for one configured API endpoint.
func NewAPISource(cfg config.APISourceConfig, client *httpclient.Client,
	limiter *resilience.Registry, retry resilience.Policy) *APISource {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &APISource{
		name:     "api_" + cfg.Name,
		baseURL:  cfg.URL,
		apiKey:   cfg.APIKey,
		pageSize: pageSize,
		client:   client,
		limiter:  limiter,
		retry:    retry,
	}
}

func (s *APISource) Name() string { return s.name }

func (s *APISource) Fetch(ctx context.Context) ([]RawItem, error) {
	var items []RawItem
	for page := 1; ; page++ {
		if err := s.limiter.Wait(ctx, s.name); err != nil {
			return nil, err
		}

		var body apiPage
		pageURL, err := s.pageURL(page)
		if err != nil {
			return nil, err
		}
		err = s.retry.Do(ctx, fmt.Sprintf("%s page %d", s.name, page), func() error {
			return s.client.GetJSON(ctx, pageURL, s.headers(), &body)
		})
		if err != nil {
			return nil, err
		}

		for _, fields := range body.Data {
			items = append(items, RawItem{
				Fields:    fields,
				Timestamp: recordTimestamp(fields),
			})
		}
		if len(body.Data) < s.pageSize {
			return items, nil
		}
	}
}

func (s *APISource) pageURL(page int) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid API URL %q", s.baseURL)
	}
	q := u.Query()
	q.Set("page", fmt.Sprint(page))
	q.Set("page_size", fmt.Sprint(s.pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *APISource) headers() map[string]string {
	if s.apiKey == "" {
		return nil
	}
	return map[string]string{"X-API-Key": s.apiKey}
}

func (s *APISource) SourceKey(item RawItem) string {
	return DeriveSourceKey(s.name, item.Fields)
}

func (s *APISource) Normalize(item RawItem) (*store.NormalizedRecord, error) {
	title := fieldString(item.Fields, "title")
	if title == "" {
		title = fieldString(item.Fields, "name")
	}
	if title == "" {
		return nil, errors.NewValidationError("record has no title or name")
	}

	value := ParseFloat(item.Fields["value"])
	if value == nil {
		value = ParseFloat(item.Fields["price"])
	}
	if value == nil {
		value = ParseFloat(item.Fields["price_usd"])
	}

	return &store.NormalizedRecord{
		Title:           title,
		Description:     fieldString(item.Fields, "description"),
		Value:           value,
		Category:        fieldString(item.Fields, "category"),
		Tags:            stringSlice(item.Fields["tags"]),
		SourceTimestamp: item.Timestamp,
	}, nil
}

// recordTimestamp probes the timestamp fields paginated APIs commonly
// emit.
func recordTimestamp(fields map[string]interface{}) *time.Time {
	for _, key := range []string{"timestamp", "updated_at", "last_updated"} {
		if ts := ParseTimestamp(fields[key]); ts != nil {
			return ts
		}
	}
	return nil
}

func stringSlice(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}
