package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
)

func newQdrantTestStore(t *testing.T, handler http.Handler) VectorStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := NewQdrantVectorStore(QdrantOptions{
		Endpoint:   server.URL,
		VectorSize: 2,
		Distance:   "cosine",
	})
	require.NoError(t, err)
	return store
}

func TestQdrantVectorStore_EnsureCollection_AlreadyExists(t *testing.T) {
	var created bool
	store := newQdrantTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"config": map[string]interface{}{
						"params": map[string]interface{}{
							"vectors": map[string]interface{}{"size": 2, "distance": "Cosine"},
						},
					},
				},
			})
		case http.MethodPut:
			created = true
		}
	}))

	require.NoError(t, store.EnsureCollection(context.Background(), "docs"))
	assert.False(t, created, "existing collection should not be recreated")
}

func TestQdrantVectorStore_EnsureCollection_SizeConflict(t *testing.T) {
	store := newQdrantTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"config": map[string]interface{}{
					"params": map[string]interface{}{
						"vectors": map[string]interface{}{"size": 1536, "distance": "Cosine"},
					},
				},
			},
		})
	}))

	err := store.EnsureCollection(context.Background(), "docs")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCollectionConflict))
}

func TestQdrantVectorStore_EnsureCollection_CreatesMissing(t *testing.T) {
	var createBody map[string]interface{}
	store := newQdrantTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
		}
	}))

	require.NoError(t, store.EnsureCollection(context.Background(), "docs"))

	require.NotNil(t, createBody)
	vectors := createBody["vectors"].(map[string]interface{})
	assert.Equal(t, float64(2), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestQdrantVectorStore_UpsertPoints_WaitsForConfirmation(t *testing.T) {
	var upsertQuery string
	store := newQdrantTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"config": map[string]interface{}{
						"params": map[string]interface{}{
							"vectors": map[string]interface{}{"size": 2},
						},
					},
				},
			})
			return
		}
		upsertQuery = r.URL.RawQuery
	}))

	err := store.UpsertPoints(context.Background(), "docs", []Point{
		{ID: 1, Vector: []float32{1, 0}, Payload: map[string]interface{}{"text": "a"}},
	})
	require.NoError(t, err)

	// 同步写：请求必须带wait=true，返回即可读
	assert.Equal(t, "wait=true", upsertQuery)
}

func TestQdrantVectorStore_UpsertPoints_VectorSizeMismatch(t *testing.T) {
	store := newQdrantTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"config": map[string]interface{}{
					"params": map[string]interface{}{
						"vectors": map[string]interface{}{"size": 2},
					},
				},
			},
		})
	}))

	err := store.UpsertPoints(context.Background(), "docs", []Point{
		{ID: 1, Vector: []float32{1, 0, 0}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestQdrantVectorStore_Search(t *testing.T) {
	store := newQdrantTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"config": map[string]interface{}{
						"params": map[string]interface{}{
							"vectors": map[string]interface{}{"size": 2},
						},
					},
				},
			})
			return
		}

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["with_payload"])
		assert.Equal(t, float64(0.4), body["score_threshold"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{"id": 7, "score": 0.92, "payload": map[string]interface{}{"text": "hit"}},
			},
		})
	}))

	results, err := store.Search(context.Background(), VectorSearchRequest{
		Collection:     "docs",
		QueryEmbedding: []float32{1, 0},
		Limit:          5,
		Threshold:      0.4,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(7), results[0].ID)
	assert.InDelta(t, 0.92, results[0].Score, 1e-9)
	assert.Equal(t, "hit", results[0].Payload["text"])
}

func TestQdrantVectorStore_Search_ServerError(t *testing.T) {
	store := newQdrantTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"config": map[string]interface{}{
						"params": map[string]interface{}{
							"vectors": map[string]interface{}{"size": 2},
						},
					},
				},
			})
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))

	_, err := store.Search(context.Background(), VectorSearchRequest{
		Collection:     "docs",
		QueryEmbedding: []float32{1, 0},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeVectorStoreError))
}

func TestQdrantVectorStore_DeleteCollection(t *testing.T) {
	var deleted string
	store := newQdrantTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = r.URL.Path
		}
	}))

	require.NoError(t, store.DeleteCollection(context.Background(), "docs"))
	assert.Equal(t, "/collections/docs", deleted)
}

func TestQdrantVectorStore_APIKeyHeader(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	store, err := NewQdrantVectorStore(QdrantOptions{
		Endpoint:   server.URL,
		APIKey:     "secret",
		VectorSize: 2,
	})
	require.NoError(t, err)

	store.EnsureCollection(context.Background(), "docs")
	assert.Equal(t, "secret", gotKey)
}
