package knowledge

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/tokenizer"
)

// Splitter 按token预算切分文档的分块器
//
// 切分过程为纯CPU计算，不做任何I/O。每个块的token数不超过上限
// （不可压缩的极端情况除外，见Chunk.Metadata.Overflow），
// 块按顺序还原占位符后拼接可精确重建原文。
type Splitter struct {
	counter tokenizer.Counter
	log     *zap.Logger
}

// NewSplitter 创建分块器
//
// 计数器通过显式缓存按模型名解析，测试时可向缓存注入假计数器。
func NewSplitter(cache *tokenizer.Cache, model string) (*Splitter, error) {
	counter, err := cache.CounterFor(model)
	if err != nil {
		return nil, err
	}
	return &Splitter{
		counter: counter,
		log:     logger.Named("splitter"),
	}, nil
}

// Counter 返回分块器使用的token计数器
func (s *Splitter) Counter() tokenizer.Counter {
	return s.counter
}

// Split 将文本切分为token数受限的有序块
//
// 标题上下文跨块继承，空文档返回零个块。limit必须大于帧开销，
// 否则任何文本都无法满足预算。
func (s *Splitter) Split(text string, limit int, src SourceInfo) ([]Chunk, error) {
	if limit <= 0 {
		return nil, apperrors.NewInvalidInputError("limit", "must be positive")
	}
	if limit <= s.counter.Overhead() {
		return nil, apperrors.NewInvalidInputError("limit",
			fmt.Sprintf("must exceed framing overhead of %d tokens", s.counter.Overhead()))
	}

	runes := []rune(text)
	var chunks []Chunk
	position := 0
	currentHeaders := make(map[string][]string)

	for position < len(runes) {
		end, overflow := s.nextChunkEnd(runes, position, limit)
		chunkText := string(runes[position:end])
		tokens := s.counter.Count(chunkText)

		MergeHeaders(currentHeaders, ExtractHeaders(chunkText))
		content, urls, images := ExtractLinks(chunkText)

		if overflow {
			s.log.Warn("chunk exceeds token limit and cannot be reduced, emitting as-is",
				zap.Int("position", position),
				zap.Int("tokens", tokens),
				zap.Int("limit", limit))
		}

		chunks = append(chunks, Chunk{
			Text:     content,
			Metadata: s.buildMetadata(tokens, overflow, currentHeaders, urls, images, src),
		})
		position = end
	}

	return chunks, nil
}

// Document 将整段文本包装为单个完整文档块，不做切分
func (s *Splitter) Document(text string, src SourceInfo) Chunk {
	headers := ExtractHeaders(text)
	content, urls, images := ExtractLinks(text)
	meta := s.buildMetadata(s.counter.Count(text), false, headers, urls, images, src)
	meta.ContentType = "complete"
	return Chunk{Text: content, Metadata: meta}
}

func (s *Splitter) buildMetadata(tokens int, overflow bool, headers map[string][]string, urls, images []string, src SourceInfo) ChunkMetadata {
	meta := ChunkMetadata{
		Tokens:           tokens,
		Overflow:         overflow,
		Headers:          cloneHeaders(headers),
		URLs:             urls,
		Images:           images,
		Type:             src.Type,
		ContentType:      "chunk",
		Source:           src.Source,
		Name:             src.Name,
		Description:      src.Description,
		MimeType:         src.MimeType,
		ConversationUUID: src.ConversationUUID,
		UUID:             uuid.NewString(),
		Additional:       src.Additional,
	}
	if meta.Type == "" {
		meta.Type = "text"
	}
	return meta
}

// nextChunkEnd 计算从start开始、满足token预算的块结束位置
//
// 先按token/字符比例估算终点，超出预算时每轮几何收缩10%，
// 收缩到单字符仍超限时放弃并标记溢出。满足预算后尝试对齐换行。
func (s *Splitter) nextChunkEnd(runes []rune, start, limit int) (int, bool) {
	total := len(runes)

	remainingTokens := s.counter.Count(string(runes[start:]))
	if remainingTokens < 1 {
		remainingTokens = 1
	}
	end := start + (total-start)*limit/remainingTokens
	if end > total {
		end = total
	}
	if end <= start {
		end = start + 1
	}

	tokens := s.counter.Count(string(runes[start:end]))
	for tokens > limit && end > start+1 {
		next := start + (end-start)*9/10
		if next <= start {
			next = start + 1
		}
		if next >= end {
			next = end - 1
		}
		end = next
		tokens = s.counter.Count(string(runes[start:end]))
	}
	if tokens > limit {
		return end, true
	}

	return s.adjustChunkEnd(runes, start, end, limit), false
}

// adjustChunkEnd 尝试将块终点对齐到换行
//
// 先向后延伸到下一个换行，不行再回退到上一个换行；两个方向都
// 要求结果仍在预算内且不低于预算的80%，避免产生过小的块。
// 都不满足时保留原终点，行中切断作为最后手段。
func (s *Splitter) adjustChunkEnd(runes []rune, start, end, limit int) int {
	minTokens := 0.8 * float64(limit)

	if next := indexNewline(runes, end); next != -1 {
		extended := next + 1
		tokens := s.counter.Count(string(runes[start:extended]))
		if tokens <= limit && float64(tokens) >= minTokens {
			return extended
		}
	}

	if prev := lastIndexNewline(runes, start, end); prev > start {
		reduced := prev + 1
		tokens := s.counter.Count(string(runes[start:reduced]))
		if tokens <= limit && float64(tokens) >= minTokens {
			return reduced
		}
	}

	return end
}

func indexNewline(runes []rune, from int) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}

func lastIndexNewline(runes []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
