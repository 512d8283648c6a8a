package knowledge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
)

// fakeEmbedder 按文本返回预设向量
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := f.vectors[text]; ok {
		return vector, nil
	}
	return nil, apperrors.NewExternalError(apperrors.ErrCodeEmbeddingProvider, "no vector for text")
}

func (f *fakeEmbedder) Dimensions() int { return 2 }
func (f *fakeEmbedder) Ready() bool     { return true }

// fakeGenerator 返回预设输出或错误
type fakeGenerator struct {
	output string
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	f.calls++
	return f.output, f.err
}

func (f *fakeGenerator) Ready() bool { return true }

// fakeVectorStore 按查询向量返回预设结果
type fakeVectorStore struct {
	results map[string][]SearchMatch
}

func vectorKey(vector []float32) string { return fmt.Sprint(vector) }

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, name string) error { return nil }
func (f *fakeVectorStore) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	return f.results[vectorKey(req.QueryEmbedding)], nil
}
func (f *fakeVectorStore) DeleteCollection(ctx context.Context, name string) error { return nil }
func (f *fakeVectorStore) Ready() bool                                             { return true }

func TestSearchEngine_Search_EmptyQuery(t *testing.T) {
	engine := NewSearchEngine(NewMemoryVectorStore(2, "cosine"), &fakeEmbedder{}, nil, nil)

	_, err := engine.Search(context.Background(), "docs", "   ", 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestSearchEngine_Search(t *testing.T) {
	store := NewMemoryVectorStore(2, "cosine")
	ctx := context.Background()
	require.NoError(t, store.UpsertPoints(ctx, "docs", []Point{
		{ID: 1, Vector: []float32{1, 0}, Payload: map[string]interface{}{"text": "hit"}},
		{ID: 2, Vector: []float32{0, 1}, Payload: map[string]interface{}{"text": "miss"}},
	}))

	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	engine := NewSearchEngine(store, embedder, nil, nil)

	results, err := engine.Search(ctx, "docs", "query", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)
	assert.Equal(t, "hit", results[0].Payload["text"])
}

func TestSearchEngine_Expand_NoGenerator(t *testing.T) {
	engine := NewSearchEngine(NewMemoryVectorStore(2, "cosine"), &fakeEmbedder{}, &NoopGenerator{}, nil)

	queries, err := engine.Expand(context.Background(), "original")
	require.NoError(t, err)
	assert.Equal(t, []string{"original"}, queries)
}

func TestSearchEngine_Expand_GeneratorError(t *testing.T) {
	generator := &fakeGenerator{err: errors.New("model unreachable")}
	engine := NewSearchEngine(NewMemoryVectorStore(2, "cosine"), &fakeEmbedder{}, generator, nil)

	// 失败时仍返回原查询，错误让调用方自行降级
	queries, err := engine.Expand(context.Background(), "original")
	require.Error(t, err)
	assert.Equal(t, []string{"original"}, queries)
}

func TestSearchEngine_Expand_MalformedOutput(t *testing.T) {
	generator := &fakeGenerator{output: "not json at all"}
	engine := NewSearchEngine(NewMemoryVectorStore(2, "cosine"), &fakeEmbedder{}, generator, nil)

	queries, err := engine.Expand(context.Background(), "original")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMalformedModelOutput))
	assert.Equal(t, []string{"original"}, queries)
}

func TestSearchEngine_Expand_FiltersVariants(t *testing.T) {
	generator := &fakeGenerator{output: `{"queries": ["v1", "", "original", "v2"]}`}
	engine := NewSearchEngine(NewMemoryVectorStore(2, "cosine"), &fakeEmbedder{}, generator, nil)

	// 空串和与原查询重复的变体被过滤
	queries, err := engine.Expand(context.Background(), "original")
	require.NoError(t, err)
	assert.Equal(t, []string{"original", "v1", "v2"}, queries)
}

func TestSearchEngine_SearchWithExpansion_MergeLastWins(t *testing.T) {
	store := &fakeVectorStore{results: map[string][]SearchMatch{
		vectorKey([]float32{1, 0}): {
			{ID: 7, Score: 0.7, Payload: map[string]interface{}{"text": "doc7"}},
		},
		vectorKey([]float32{0, 1}): {
			{ID: 7, Score: 0.9, Payload: map[string]interface{}{"text": "doc7"}},
			{ID: 8, Score: 0.2, Payload: map[string]interface{}{"text": "doc8"}},
		},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"q": {1, 0},
		"v": {0, 1},
	}}
	generator := &fakeGenerator{output: `{"queries": ["v"]}`}
	engine := NewSearchEngine(store, embedder, generator, nil)

	results, err := engine.SearchWithExpansion(context.Background(), "docs", "q", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 同一ID以靠后变体的得分为准
	assert.Equal(t, uint64(7), results[0].ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.Equal(t, uint64(8), results[1].ID)
}

func TestSearchEngine_SearchWithExpansion_DegradesOnExpandFailure(t *testing.T) {
	store := &fakeVectorStore{results: map[string][]SearchMatch{
		vectorKey([]float32{1, 0}): {{ID: 1, Score: 0.8}},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	generator := &fakeGenerator{err: errors.New("model unreachable")}
	engine := NewSearchEngine(store, embedder, generator, nil)

	// 扩写失败时只用原查询检索，不报错
	results, err := engine.SearchWithExpansion(context.Background(), "docs", "q", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)
}

func TestSearchEngine_SearchWithExpansion_VariantFailureIsolated(t *testing.T) {
	store := &fakeVectorStore{results: map[string][]SearchMatch{
		vectorKey([]float32{1, 0}): {{ID: 1, Score: 0.8}},
	}}
	// 变体"v"没有向量，该路检索失败但不影响原查询
	embedder := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	generator := &fakeGenerator{output: `{"queries": ["v"]}`}
	engine := NewSearchEngine(store, embedder, generator, nil)

	results, err := engine.SearchWithExpansion(context.Background(), "docs", "q", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].ID)
}

func TestSearchEngine_Rerank_NoReranker(t *testing.T) {
	engine := NewSearchEngine(NewMemoryVectorStore(2, "cosine"), &fakeEmbedder{}, nil, nil)
	results := []SearchMatch{{ID: 1, Score: 0.9}, {ID: 2, Score: 0.8}, {ID: 3, Score: 0.7}}

	reranked := engine.Rerank(context.Background(), "q", results, 2)
	require.Len(t, reranked, 2)
	assert.Equal(t, uint64(1), reranked[0].ID)
	assert.Equal(t, uint64(2), reranked[1].ID)
}

func TestSearchEngine_Rerank_Reorders(t *testing.T) {
	generator := &fakeGenerator{output: `{"ranking": [2, 1]}`}
	engine := NewSearchEngine(NewMemoryVectorStore(2, "cosine"), &fakeEmbedder{}, nil, NewLLMReranker(generator))
	results := []SearchMatch{
		{ID: 1, Score: 0.9, Payload: map[string]interface{}{"text": "first"}},
		{ID: 2, Score: 0.8, Payload: map[string]interface{}{"text": "second"}},
	}

	reranked := engine.Rerank(context.Background(), "q", results, 0)
	require.Len(t, reranked, 2)
	assert.Equal(t, uint64(2), reranked[0].ID)
	assert.Equal(t, uint64(1), reranked[1].ID)
}

func TestSearchEngine_Rerank_FallbackOnError(t *testing.T) {
	generator := &fakeGenerator{err: errors.New("model unreachable")}
	engine := NewSearchEngine(NewMemoryVectorStore(2, "cosine"), &fakeEmbedder{}, nil, NewLLMReranker(generator))
	results := []SearchMatch{{ID: 1, Score: 0.9}, {ID: 2, Score: 0.8}}

	// 重排序失败保持原顺序
	reranked := engine.Rerank(context.Background(), "q", results, 2)
	require.Len(t, reranked, 2)
	assert.Equal(t, uint64(1), reranked[0].ID)
	assert.Equal(t, uint64(2), reranked[1].ID)
}

func TestLLMReranker_MalformedOutput(t *testing.T) {
	reranker := NewLLMReranker(&fakeGenerator{output: "garbage"})

	_, err := reranker.Rerank(context.Background(), "q", []RerankDocument{{ID: 1, Content: "a"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMalformedModelOutput))
}

func TestLLMReranker_FabricatedAndOmittedIDs(t *testing.T) {
	// 编造的ID被忽略，遗漏的文档按原顺序补在末尾
	reranker := NewLLMReranker(&fakeGenerator{output: `{"ranking": [99, 2]}`})
	documents := []RerankDocument{
		{ID: 1, Content: "a"},
		{ID: 2, Content: "b"},
		{ID: 3, Content: "c"},
	}

	results, err := reranker.Rerank(context.Background(), "q", documents)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, uint64(2), results[0].Document.ID)
	assert.Equal(t, uint64(1), results[1].Document.ID)
	assert.Equal(t, uint64(3), results[2].Document.ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 3, results[2].Rank)
}
