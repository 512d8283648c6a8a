package knowledge

import (
	"context"
	"hash/fnv"
	"strings"
)

// Point 向量库中的一条记录
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]interface{}
}

// SearchMatch 相似度检索结果
type SearchMatch struct {
	ID      uint64
	Score   float64
	Payload map[string]interface{}
}

// VectorSearchRequest 向量检索请求
type VectorSearchRequest struct {
	Collection     string
	QueryEmbedding []float32
	Limit          int
	Threshold      float64 // 相似度阈值，仅返回 >= Threshold 的结果
}

// VectorStore 向量存储抽象
//
// EnsureCollection 幂等，已存在且维度匹配时为空操作，维度不匹配
// 返回COLLECTION_CONFLICT。UpsertPoints 同步写入，返回即可读。
// Search 按相似度降序返回，得分相同时保持插入顺序。
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string) error
	UpsertPoints(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error)
	DeleteCollection(ctx context.Context, name string) error
	Ready() bool
}

// DeterministicPointID 从内容派生稳定的点ID
//
// 同一文本重复写入会得到同一ID，保证upsert幂等。取模2^31
// 使ID在JSON传输中不丢失精度。
func DeterministicPointID(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	return h.Sum64() % (1 << 31)
}

func formatDistance(value string) string {
	switch strings.ToLower(value) {
	case "dot", "dotproduct":
		return "Dot"
	case "euclid", "l2":
		return "Euclid"
	default:
		return "Cosine"
	}
}
