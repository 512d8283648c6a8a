package knowledge

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/logger"
)

// DocumentIndexer 文档入库管线：分块、向量化、写入向量库
type DocumentIndexer struct {
	splitter    *Splitter
	embedder    Embedder
	store       VectorStore
	maxParallel int
	log         *zap.Logger
}

// NewDocumentIndexer 创建文档索引器
func NewDocumentIndexer(splitter *Splitter, embedder Embedder, store VectorStore, maxParallel int) *DocumentIndexer {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &DocumentIndexer{
		splitter:    splitter,
		embedder:    embedder,
		store:       store,
		maxParallel: maxParallel,
		log:         logger.Named("indexer"),
	}
}

// IndexDocument 切分文档并将所有块写入集合
//
// 各块的向量化并发执行，上限maxParallel。批内任何一块向量化
// 失败则整批不写入，不做部分upsert，保证集合中不会出现残缺
// 文档。点ID由块文本内容派生，重复索引同一文档幂等。
func (ix *DocumentIndexer) IndexDocument(ctx context.Context, collection, text string, limit int, src SourceInfo) ([]Chunk, error) {
	chunks, err := ix.splitter.Split(text, limit, src)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	if err := ix.store.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.maxParallel)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			vector, err := ix.embedder.Embed(gctx, chunk.Text)
			if err != nil {
				return err
			}
			vectors[i] = vector
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeEmbeddingProvider,
			"batch embedding failed, no points written").WithCause(err)
	}

	points := make([]Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = Point{
			ID:      DeterministicPointID(chunk.Text),
			Vector:  vectors[i],
			Payload: chunkPayload(chunk),
		}
	}

	if err := ix.store.UpsertPoints(ctx, collection, points); err != nil {
		return nil, err
	}

	ix.log.Info("document indexed",
		zap.String("collection", collection),
		zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// IndexChunk 将单个已有块向量化后写入集合
func (ix *DocumentIndexer) IndexChunk(ctx context.Context, collection string, chunk Chunk) error {
	if err := ix.store.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	vector, err := ix.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return err
	}

	return ix.store.UpsertPoints(ctx, collection, []Point{{
		ID:      DeterministicPointID(chunk.Text),
		Vector:  vector,
		Payload: chunkPayload(chunk),
	}})
}

// chunkPayload 将块展开为点的载荷，text字段始终保留
func chunkPayload(chunk Chunk) map[string]interface{} {
	payload := map[string]interface{}{
		"text":   chunk.Text,
		"tokens": chunk.Metadata.Tokens,
		"uuid":   chunk.Metadata.UUID,
		"type":   chunk.Metadata.Type,
	}
	if len(chunk.Metadata.Headers) > 0 {
		payload["headers"] = chunk.Metadata.Headers
	}
	if len(chunk.Metadata.URLs) > 0 {
		payload["urls"] = chunk.Metadata.URLs
	}
	if len(chunk.Metadata.Images) > 0 {
		payload["images"] = chunk.Metadata.Images
	}
	if chunk.Metadata.Source != "" {
		payload["source"] = chunk.Metadata.Source
	}
	if chunk.Metadata.Name != "" {
		payload["name"] = chunk.Metadata.Name
	}
	if chunk.Metadata.ConversationUUID != "" {
		payload["conversation_uuid"] = chunk.Metadata.ConversationUUID
	}
	for key, val := range chunk.Metadata.Additional {
		payload[key] = val
	}
	return payload
}
