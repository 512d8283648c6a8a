package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Knowledge KnowledgeConfig
}

type ServerConfig struct {
	Env string
}

type AIConfig struct {
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	DefaultModel   string
	EmbeddingModel string
}

type KnowledgeConfig struct {
	ChunkLimit     int // 单块token上限
	TokenizerModel string
	MaxParallel    int // 并行向量化上限
	VectorStore    VectorStoreConfig
	Expansion      ExpansionConfig
	Rerank         RerankConfig
}

type VectorStoreConfig struct {
	Provider   string // memory | qdrant | qdrant-grpc
	Endpoint   string
	APIKey     string
	UseTLS     bool
	VectorSize int
	Distance   string
	GRPCAddr   string
}

type ExpansionConfig struct {
	Enabled  bool
	Variants int // LLM生成的改写数量
}

type RerankConfig struct {
	Enabled bool
	TopN    int // Rerank候选数量
}

var AppConfig *Config

func LoadConfig() error {
	// 设置默认值
	viper.SetDefault("server.env", "development")

	// AI配置默认值
	viper.SetDefault("ai.default_model", "gpt-4o")
	viper.SetDefault("ai.embedding_model", "text-embedding-3-large")

	// 知识库配置默认值
	viper.SetDefault("knowledge.chunk_limit", 1000)
	viper.SetDefault("knowledge.tokenizer_model", "gpt-4o")
	viper.SetDefault("knowledge.max_parallel", 4)
	viper.SetDefault("knowledge.vector_store.provider", "memory")
	viper.SetDefault("knowledge.vector_store.endpoint", "http://localhost:6333")
	viper.SetDefault("knowledge.vector_store.grpc_addr", "localhost:6334")
	viper.SetDefault("knowledge.vector_store.vector_size", 3072)
	viper.SetDefault("knowledge.vector_store.distance", "cosine")
	viper.SetDefault("knowledge.expansion.enabled", true)
	viper.SetDefault("knowledge.expansion.variants", 3)
	viper.SetDefault("knowledge.rerank.enabled", false)
	viper.SetDefault("knowledge.rerank.top_n", 10)

	viper.SetEnvPrefix("KNOWLEDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 从环境变量读取
	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		viper.Set("ai.openai_api_key", openaiKey)
	}
	if openaiBase := os.Getenv("OPENAI_BASE_URL"); openaiBase != "" {
		viper.Set("ai.openai_base_url", openaiBase)
	}
	if defaultModel := os.Getenv("DEFAULT_AI_MODEL"); defaultModel != "" {
		viper.Set("ai.default_model", defaultModel)
	}
	if embeddingModel := os.Getenv("EMBEDDING_MODEL"); embeddingModel != "" {
		viper.Set("ai.embedding_model", embeddingModel)
	}
	if qdrantURL := os.Getenv("QDRANT_URL"); qdrantURL != "" {
		viper.Set("knowledge.vector_store.endpoint", qdrantURL)
		viper.Set("knowledge.vector_store.provider", "qdrant")
	}
	if qdrantKey := os.Getenv("QDRANT_API_KEY"); qdrantKey != "" {
		viper.Set("knowledge.vector_store.api_key", qdrantKey)
	}
	if grpcAddr := os.Getenv("QDRANT_GRPC_ADDR"); grpcAddr != "" {
		viper.Set("knowledge.vector_store.grpc_addr", grpcAddr)
		viper.Set("knowledge.vector_store.provider", "qdrant-grpc")
	}

	AppConfig = &Config{
		Server: ServerConfig{
			Env: viper.GetString("server.env"),
		},
		AI: AIConfig{
			OpenAIAPIKey:   viper.GetString("ai.openai_api_key"),
			OpenAIBaseURL:  viper.GetString("ai.openai_base_url"),
			DefaultModel:   viper.GetString("ai.default_model"),
			EmbeddingModel: viper.GetString("ai.embedding_model"),
		},
		Knowledge: KnowledgeConfig{
			ChunkLimit:     viper.GetInt("knowledge.chunk_limit"),
			TokenizerModel: viper.GetString("knowledge.tokenizer_model"),
			MaxParallel:    viper.GetInt("knowledge.max_parallel"),
			VectorStore: VectorStoreConfig{
				Provider:   viper.GetString("knowledge.vector_store.provider"),
				Endpoint:   viper.GetString("knowledge.vector_store.endpoint"),
				APIKey:     viper.GetString("knowledge.vector_store.api_key"),
				UseTLS:     viper.GetBool("knowledge.vector_store.use_tls"),
				VectorSize: viper.GetInt("knowledge.vector_store.vector_size"),
				Distance:   viper.GetString("knowledge.vector_store.distance"),
				GRPCAddr:   viper.GetString("knowledge.vector_store.grpc_addr"),
			},
			Expansion: ExpansionConfig{
				Enabled:  viper.GetBool("knowledge.expansion.enabled"),
				Variants: viper.GetInt("knowledge.expansion.variants"),
			},
			Rerank: RerankConfig{
				Enabled: viper.GetBool("knowledge.rerank.enabled"),
				TopN:    viper.GetInt("knowledge.rerank.top_n"),
			},
		},
	}

	return nil
}
