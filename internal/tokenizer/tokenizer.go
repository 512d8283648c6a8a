package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/logger"
)

// 未知模型时回退使用的通用编码
const fallbackEncoding = "cl100k_base"

// Counter 定义token计数接口
//
// Count 返回文本按对话帧格式化后的token数，包含固定的帧开销，
// 与该文本进入真实模型请求时的成本一致。
type Counter interface {
	Count(text string) int
	EncodingName() string
	Overhead() int
}

// FormatForCount 将文本包装为对话帧格式再计数
func FormatForCount(text string) string {
	return fmt.Sprintf("<|im_start|>user\n%s<|im_end|>\n<|im_start|>assistant<|im_end|>", text)
}

type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
	overhead int
}

// NewCounter 创建指定模型的token计数器
//
// 模型未收录时回退到cl100k_base编码；回退也失败时返回
// TOKENIZER_UNAVAILABLE错误。
func NewCounter(model string) (Counter, error) {
	name := model
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		logger.Warn("encoding not found for model, falling back",
			zap.String("model", model),
			zap.String("fallback", fallbackEncoding))
		name = fallbackEncoding
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, apperrors.NewSystemError(
				apperrors.ErrCodeTokenizerUnavailable,
				fmt.Sprintf("no usable encoding for model '%s'", model),
			).WithCause(err)
		}
	}

	c := &tiktokenCounter{
		encoding: encoding,
		name:     name,
	}
	// 帧开销只测量一次，对每个块都是常量
	c.overhead = len(encoding.Encode(FormatForCount(""), nil, nil)) - len(encoding.Encode("", nil, nil))
	return c, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(FormatForCount(text), nil, nil))
}

func (c *tiktokenCounter) EncodingName() string {
	return c.name
}

func (c *tiktokenCounter) Overhead() int {
	return c.overhead
}

// Cache 按模型名缓存Counter
//
// 显式传递给分块器使用，避免进程级单例，便于注入测试用的假计数器。
type Cache struct {
	mu       sync.Mutex
	counters map[string]Counter
}

// NewCache 创建计数器缓存
func NewCache() *Cache {
	return &Cache{
		counters: make(map[string]Counter),
	}
}

// CounterFor 获取或创建指定模型的计数器
func (c *Cache) CounterFor(model string) (Counter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, ok := c.counters[model]; ok {
		return counter, nil
	}

	counter, err := NewCounter(model)
	if err != nil {
		return nil, err
	}
	c.counters[model] = counter
	return counter, nil
}

// Put 注入指定模型的计数器，已存在时覆盖
func (c *Cache) Put(model string, counter Counter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[model] = counter
}
