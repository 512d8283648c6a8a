package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/logger"
)

// SearchEngine 组合向量检索、查询扩写与重排序
//
// 扩写与重排序属于可选增强，任何一步失败都只降级，不影响
// 检索主流程的结果返回。
type SearchEngine struct {
	store     VectorStore
	embedder  Embedder
	generator TextGenerator
	reranker  Reranker
	variants  int // LLM生成的查询改写数量
	log       *zap.Logger
}

// NewSearchEngine 创建检索引擎
func NewSearchEngine(store VectorStore, embedder Embedder, generator TextGenerator, reranker Reranker) *SearchEngine {
	return &SearchEngine{
		store:     store,
		embedder:  embedder,
		generator: generator,
		reranker:  reranker,
		variants:  3,
		log:       logger.Named("search"),
	}
}

// SetVariants 设置查询扩写数量
func (e *SearchEngine) SetVariants(n int) {
	if n > 0 {
		e.variants = n
	}
}

// SetReranker 设置Reranker（用于动态切换）
func (e *SearchEngine) SetReranker(reranker Reranker) {
	e.reranker = reranker
}

// HasReranker 检查是否有可用的Reranker
func (e *SearchEngine) HasReranker() bool {
	return e.reranker != nil && e.reranker.Ready()
}

// Search 单查询向量检索
func (e *SearchEngine) Search(ctx context.Context, collection, query string, limit int) ([]SearchMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewInvalidInputError("query", "cannot be empty")
	}
	if e.store == nil || !e.store.Ready() || e.embedder == nil || !e.embedder.Ready() {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeInternal, "search engine not configured")
	}
	if limit == 0 {
		limit = 10
	}

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	return e.store.Search(ctx, VectorSearchRequest{
		Collection:     collection,
		QueryEmbedding: embedding,
		Limit:          limit,
	})
}

const expandSystemPrompt = `You generate alternative phrasings of a search query for better coverage. ` +
	`Return a JSON object {"queries": ["...", "..."]} with exactly %d rephrased variants.`

// Expand 生成查询的改写变体，首个元素恒为原查询
//
// 生成失败或输出不可解析时返回仅含原查询的列表和对应错误，
// 调用方可据此区分"未生成变体"与"生成失败"，但不应让检索失败。
func (e *SearchEngine) Expand(ctx context.Context, query string) ([]string, error) {
	base := []string{query}
	if e.generator == nil || !e.generator.Ready() {
		return base, nil
	}

	raw, err := e.generator.Generate(ctx, fmt.Sprintf(expandSystemPrompt, e.variants), query, true)
	if err != nil {
		return base, err
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return base, apperrors.NewMalformedOutputError("expansion response is not valid JSON").WithCause(err)
	}

	queries := base
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q == "" || q == query {
			continue
		}
		queries = append(queries, q)
		if len(queries) > e.variants {
			break
		}
	}
	return queries, nil
}

// SearchWithExpansion 扩写查询后多路检索并融合结果
//
// 各变体检索并发执行，单个变体失败只贡献零结果。融合按点ID去重，
// 同一ID以靠后变体的得分为准，最后按得分降序截取limit条。
func (e *SearchEngine) SearchWithExpansion(ctx context.Context, collection, query string, limit int) ([]SearchMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewInvalidInputError("query", "cannot be empty")
	}
	if limit == 0 {
		limit = 10
	}

	queries, err := e.Expand(ctx, query)
	if err != nil {
		// 扩写失败降级为仅用原查询
		e.log.Warn("query expansion failed, using original query only",
			zap.String("query", query),
			zap.Error(err))
	}

	variantResults := make([][]SearchMatch, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			results, err := e.Search(ctx, collection, q, limit)
			if err != nil {
				e.log.Warn("variant search failed",
					zap.String("variant", q),
					zap.Error(err))
				return
			}
			variantResults[i] = results
		}(i, q)
	}
	wg.Wait()

	merged := make(map[uint64]SearchMatch)
	var order []uint64
	for _, results := range variantResults {
		for _, match := range results {
			if _, seen := merged[match.ID]; !seen {
				order = append(order, match.ID)
			}
			// 靠后变体的得分覆盖靠前的
			merged[match.ID] = match
		}
	}

	results := make([]SearchMatch, 0, len(order))
	for _, id := range order {
		results = append(results, merged[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Rerank 对检索结果重排序，失败时按原顺序截取topK
func (e *SearchEngine) Rerank(ctx context.Context, query string, results []SearchMatch, topK int) []SearchMatch {
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	if e.reranker == nil || !e.reranker.Ready() || len(results) < 2 {
		return results[:topK]
	}

	documents := make([]RerankDocument, len(results))
	for i, match := range results {
		content := ""
		if text, ok := match.Payload["text"].(string); ok {
			content = text
		}
		documents[i] = RerankDocument{
			ID:      match.ID,
			Content: content,
			Score:   match.Score,
		}
	}

	reranked, err := e.reranker.Rerank(ctx, query, documents)
	if err != nil {
		// 重排序失败不影响检索结果
		e.log.Warn("rerank failed, keeping original order", zap.Error(err))
		return results[:topK]
	}

	byID := make(map[uint64]SearchMatch, len(results))
	for _, match := range results {
		byID[match.ID] = match
	}

	ordered := make([]SearchMatch, 0, topK)
	for _, rr := range reranked {
		if match, ok := byID[rr.Document.ID]; ok {
			ordered = append(ordered, match)
			if len(ordered) == topK {
				break
			}
		}
	}
	return ordered
}
