package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
)

// Reranker 重排序接口
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []RerankDocument) ([]RerankResult, error)
	Ready() bool
}

// RerankDocument 待重排序的文档
type RerankDocument struct {
	ID      uint64  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"` // 原始分数
}

// RerankResult 重排序结果
type RerankResult struct {
	Document RerankDocument `json:"document"`
	Score    float64        `json:"score"` // 重排序后的分数
	Rank     int            `json:"rank"`  // 重排序后的排名
}

// NoopReranker 默认占位实现
type NoopReranker struct{}

func (n *NoopReranker) Rerank(ctx context.Context, query string, documents []RerankDocument) ([]RerankResult, error) {
	// 不进行重排序，直接返回原结果
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{
			Document: doc,
			Score:    doc.Score,
			Rank:     i + 1,
		}
	}
	return results, nil
}

func (n *NoopReranker) Ready() bool {
	return false
}

// LLMReranker 通过文本生成模型对结果重排序
type LLMReranker struct {
	generator TextGenerator
}

// NewLLMReranker 创建基于LLM的重排序器
func NewLLMReranker(generator TextGenerator) Reranker {
	if generator == nil || !generator.Ready() {
		return &NoopReranker{}
	}
	return &LLMReranker{generator: generator}
}

const rerankSystemPrompt = `You rank search results by relevance to a query. ` +
	`Return a JSON object {"ranking": [id, id, ...]} listing every document id from most to least relevant.`

func (r *LLMReranker) Rerank(ctx context.Context, query string, documents []RerankDocument) ([]RerankResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewInvalidInputError("query", "cannot be empty")
	}
	if len(documents) == 0 {
		return nil, apperrors.NewInvalidInputError("documents", "cannot be empty")
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Query: %s\n\nDocuments:\n", query)
	for _, doc := range documents {
		fmt.Fprintf(&prompt, "[%d] %s\n", doc.ID, doc.Content)
	}

	raw, err := r.generator.Generate(ctx, rerankSystemPrompt, prompt.String(), true)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Ranking []uint64 `json:"ranking"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, apperrors.NewMalformedOutputError("rerank response is not valid JSON").WithCause(err)
	}
	if len(parsed.Ranking) == 0 {
		return nil, apperrors.NewMalformedOutputError("rerank response contains no ranking")
	}

	byID := make(map[uint64]RerankDocument, len(documents))
	for _, doc := range documents {
		byID[doc.ID] = doc
	}

	results := make([]RerankResult, 0, len(documents))
	for _, id := range parsed.Ranking {
		doc, ok := byID[id]
		if !ok {
			// 模型编造的ID直接忽略
			continue
		}
		delete(byID, id)
		results = append(results, RerankResult{
			Document: doc,
			Score:    doc.Score,
			Rank:     len(results) + 1,
		})
	}

	// 模型遗漏的文档按原顺序补在末尾
	for _, doc := range documents {
		if _, remaining := byID[doc.ID]; remaining {
			results = append(results, RerankResult{
				Document: doc,
				Score:    doc.Score,
				Rank:     len(results) + 1,
			})
		}
	}

	return results, nil
}

func (r *LLMReranker) Ready() bool {
	return r.generator != nil && r.generator.Ready()
}
