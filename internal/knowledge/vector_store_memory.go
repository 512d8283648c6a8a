package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
)

// memoryVectorStore 进程内向量存储
//
// 用于测试与无外部依赖的本地运行，语义与远端存储一致：
// 幂等ensure、同步写、稳定排序的top-k检索。
type memoryVectorStore struct {
	mu          sync.RWMutex
	vectorSize  int
	distance    string
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	vectorSize int
	points     map[uint64]Point
	order      []uint64 // 首次插入顺序，得分并列时保持稳定
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore(vectorSize int, distance string) VectorStore {
	if vectorSize <= 0 {
		vectorSize = 1536
	}
	return &memoryVectorStore{
		vectorSize:  vectorSize,
		distance:    formatDistance(distance),
		collections: make(map[string]*memoryCollection),
	}
}

func (s *memoryVectorStore) EnsureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		if col.vectorSize != s.vectorSize {
			return apperrors.NewCollectionConflictError(name, s.vectorSize, col.vectorSize)
		}
		return nil
	}

	s.collections[name] = &memoryCollection{
		vectorSize: s.vectorSize,
		points:     make(map[uint64]Point),
	}
	return nil
}

func (s *memoryVectorStore) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.collections[collection]
	for _, point := range points {
		if len(point.Vector) != col.vectorSize {
			return apperrors.NewValidationError(
				fmt.Sprintf("point %d has vector size %d, collection expects %d", point.ID, len(point.Vector), col.vectorSize))
		}
		if _, exists := col.points[point.ID]; !exists {
			col.order = append(col.order, point.ID)
		}
		col.points[point.ID] = point
	}
	return nil
}

func (s *memoryVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if err := s.EnsureCollection(ctx, req.Collection); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.collections[req.Collection]
	results := make([]SearchMatch, 0, len(col.order))
	for _, id := range col.order {
		point := col.points[id]
		score := s.score(req.QueryEmbedding, point.Vector)
		if score < req.Threshold {
			continue
		}
		results = append(results, SearchMatch{
			ID:      point.ID,
			Score:   score,
			Payload: point.Payload,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

func (s *memoryVectorStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *memoryVectorStore) Ready() bool {
	return true
}

func (s *memoryVectorStore) score(query, vector []float32) float64 {
	switch s.distance {
	case "Dot":
		return dotProduct(query, vector)
	case "Euclid":
		// 距离越小越相似，映射到(0,1]使排序方向一致
		return 1 / (1 + math.Sqrt(squaredDistance(query, vector)))
	default:
		return cosineSimilarity(query, vector)
	}
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
