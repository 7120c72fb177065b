package projector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geneva-listings/internal/common/logger"
)

type esCall struct {
	method string
	path   string
	body   []byte
}

func newTestIndex(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*SearchIndex, *[]esCall) {
	calls := &[]esCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*calls = append(*calls, esCall{method: r.Method, path: r.URL.Path, body: body})
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		respond(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	return NewSearchIndex(client, "listings", logger.NewTestLogger(t)), calls
}

func TestSearchIndex_Upsert_WritesDocumentByID(t *testing.T) {
	index, calls := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":"created"}`))
	})

	err := index.Upsert(context.Background(), &MapRecord{
		ID:          "sub-1",
		Kind:        "listing",
		Description: "Flat near the center",
		Address:     "вул. Грецька 12",
		Price:       8000,
	})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/listings/_doc/sub-1", call.path)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(call.body, &doc))
	assert.Equal(t, "Flat near the center", doc["description"])
}

func TestSearchIndex_Delete_MissingDocumentIsSuccess(t *testing.T) {
	index, _ := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"result":"not_found"}`))
	})

	assert.NoError(t, index.Delete(context.Background(), "gone"))
}

func TestSearchIndex_Search_ParsesHits(t *testing.T) {
	index, calls := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hits":{"hits":[
			{"_source":{"id":"sub-1","kind":"listing","description":"Flat near the center","price":8000}},
			{"_source":{"id":"sub-2","kind":"listing","description":"Room in the center","price":4500}}
		]}}`))
	})

	records, err := index.Search(context.Background(), SearchQuery{Text: "center"})
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "sub-1", records[0].ID)
	assert.Equal(t, 4500, records[1].Price)

	require.Len(t, *calls, 1)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal((*calls)[0].body, &body))
	assert.Equal(t, float64(50), body["size"])
}

func TestSearchIndex_Search_PriceRangeBecomesFilter(t *testing.T) {
	index, calls := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hits":{"hits":[]}}`))
	})

	_, err := index.Search(context.Background(), SearchQuery{Text: "flat", MinPrice: 3000, MaxPrice: 9000, Limit: 10})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	var body struct {
		Size  int `json:"size"`
		Query struct {
			Bool struct {
				Filter []struct {
					Range map[string]map[string]int `json:"range"`
				} `json:"filter"`
			} `json:"bool"`
		} `json:"query"`
	}
	require.NoError(t, json.Unmarshal((*calls)[0].body, &body))

	assert.Equal(t, 10, body.Size)
	require.Len(t, body.Query.Bool.Filter, 1)
	assert.Equal(t, 3000, body.Query.Bool.Filter[0].Range["price"]["gte"])
	assert.Equal(t, 9000, body.Query.Bool.Filter[0].Range["price"]["lte"])
}
