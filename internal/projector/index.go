package projector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/common/logger"
)

// SearchIndex mirrors published listings into Elasticsearch so the
// public map can offer full-text search over descriptions and
// addresses. The index is a pure projection: it can always be rebuilt
// from the store.
type SearchIndex struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewSearchIndex(client *elasticsearch.Client, index string, log logger.Logger) *SearchIndex {
	return &SearchIndex{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "search_index"}),
	}
}

// Upsert writes or replaces the document for one published record.
func (s *SearchIndex) Upsert(ctx context.Context, record *MapRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode search document: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithDocumentID(record.ID),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return stderrors.NewSearchIndexFailedError("index", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return stderrors.NewSearchIndexFailedError("index", fmt.Errorf("elasticsearch returned %s", res.Status()))
	}
	return nil
}

// Delete removes a record from the index. A 404 is success: the
// document is gone either way.
func (s *SearchIndex) Delete(ctx context.Context, id string) error {
	res, err := s.client.Delete(
		s.index,
		id,
		s.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return stderrors.NewSearchIndexFailedError("delete", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return stderrors.NewSearchIndexFailedError("delete", fmt.Errorf("elasticsearch returned %s", res.Status()))
	}
	return nil
}

// SearchQuery narrows a feed search. MinPrice/MaxPrice of zero mean
// no bound on that side.
type SearchQuery struct {
	Text     string
	MinPrice int
	MaxPrice int
	Limit    int
}

// Search runs a full-text query over description and address, with an
// optional price range, and returns matching map records, best match
// first.
func (s *SearchIndex) Search(ctx context.Context, q SearchQuery) ([]*MapRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	must := []map[string]interface{}{{
		"multi_match": map[string]interface{}{
			"query":  q.Text,
			"fields": []string{"description", "address"},
		},
	}}

	var filter []map[string]interface{}
	if q.MinPrice > 0 || q.MaxPrice > 0 {
		bounds := map[string]interface{}{}
		if q.MinPrice > 0 {
			bounds["gte"] = q.MinPrice
		}
		if q.MaxPrice > 0 {
			bounds["lte"] = q.MaxPrice
		}
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"price": bounds},
		})
	}

	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(raw)),
	)
	if err != nil {
		return nil, stderrors.NewSearchIndexFailedError("search", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, stderrors.NewSearchIndexFailedError("search", fmt.Errorf("elasticsearch returned %s", res.Status()))
	}

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, stderrors.NewSearchIndexFailedError("search", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source MapRecord `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, stderrors.NewSearchIndexFailedError("search", err)
	}

	records := make([]*MapRecord, 0, len(parsed.Hits.Hits))
	for i := range parsed.Hits.Hits {
		rec := parsed.Hits.Hits[i].Source
		records = append(records, &rec)
	}
	return records, nil
}
