package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/tokenizer"
)

const sampleDocument = `# 知识库服务

本服务将markdown文档切分为token受限的块并写入向量库。

## 分块

分块按token预算进行，标题上下文跨块继承，
链接与图片在入库前替换为占位符，见[设计文档](https://example.com/design)。

## 检索

查询经LLM扩写后多路检索并融合，可选地再做一次重排序。
`

func main() {
	// .env不存在时静默跳过，环境变量仍然生效
	_ = godotenv.Load()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.AppConfig

	cache := tokenizer.NewCache()
	splitter, err := knowledge.NewSplitter(cache, cfg.Knowledge.TokenizerModel)
	if err != nil {
		logger.Error("failed to create splitter", zap.Error(err))
		return
	}

	store, err := buildVectorStore(cfg)
	if err != nil {
		logger.Error("failed to create vector store", zap.Error(err))
		return
	}

	embedder := knowledge.NewOpenAIEmbedder(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIBaseURL, cfg.AI.EmbeddingModel)
	generator := knowledge.NewOpenAIGenerator(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIBaseURL, cfg.AI.DefaultModel)

	var reranker knowledge.Reranker
	if cfg.Knowledge.Rerank.Enabled {
		reranker = knowledge.NewLLMReranker(generator)
	}

	indexer := knowledge.NewDocumentIndexer(splitter, embedder, store, cfg.Knowledge.MaxParallel)
	engine := knowledge.NewSearchEngine(store, embedder, generator, reranker)
	engine.SetVariants(cfg.Knowledge.Expansion.Variants)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	collection := "demo-knowledge"
	chunks, err := indexer.IndexDocument(ctx, collection, sampleDocument, cfg.Knowledge.ChunkLimit, knowledge.SourceInfo{
		Type:   "markdown",
		Source: "sample.md",
		Name:   "知识库服务说明",
	})
	if err != nil {
		logger.Error("indexing failed", zap.Error(err))
		return
	}
	logger.Info("document indexed",
		zap.String("collection", collection),
		zap.Int("chunks", len(chunks)))

	query := "文档是如何切分的"
	var results []knowledge.SearchMatch
	if cfg.Knowledge.Expansion.Enabled {
		results, err = engine.SearchWithExpansion(ctx, collection, query, 5)
	} else {
		results, err = engine.Search(ctx, collection, query, 5)
	}
	if err != nil {
		logger.Error("search failed", zap.Error(err))
		return
	}

	if engine.HasReranker() {
		results = engine.Rerank(ctx, query, results, cfg.Knowledge.Rerank.TopN)
	}

	for i, match := range results {
		text, _ := match.Payload["text"].(string)
		logger.Info("search result",
			zap.Int("rank", i+1),
			zap.Uint64("id", match.ID),
			zap.Float64("score", match.Score),
			zap.String("text", text))
	}
}

func buildVectorStore(cfg *config.Config) (knowledge.VectorStore, error) {
	vs := cfg.Knowledge.VectorStore
	switch vs.Provider {
	case "qdrant":
		return knowledge.NewQdrantVectorStore(knowledge.QdrantOptions{
			Endpoint:   vs.Endpoint,
			APIKey:     vs.APIKey,
			VectorSize: vs.VectorSize,
			Distance:   vs.Distance,
			UseTLS:     vs.UseTLS,
		})
	case "qdrant-grpc":
		return knowledge.NewGRPCVectorStore(knowledge.GRPCOptions{
			Addr:       vs.GRPCAddr,
			VectorSize: vs.VectorSize,
			Distance:   vs.Distance,
		})
	default:
		return knowledge.NewMemoryVectorStore(vs.VectorSize, vs.Distance), nil
	}
}
