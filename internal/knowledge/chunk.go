package knowledge

// Chunk 表示分块后的文本结构
//
// Text 中的链接与图片已替换为占位符，原始地址保存在元数据中，
// 通过 Restore 可还原。块创建后不再修改。
type Chunk struct {
	Text     string
	Metadata ChunkMetadata
}

// ChunkMetadata 块的类型化元数据
type ChunkMetadata struct {
	Tokens   int                 // 含帧开销的token数
	Overflow bool                // 无法压缩到上限以内时置位
	Headers  map[string][]string // 块结束时生效的层级标题
	URLs     []string            // 按占位符序号索引的链接地址
	Images   []string            // 按占位符序号索引的图片地址

	Type             string // 默认 text
	ContentType      string // chunk 或 complete
	Source           string
	Name             string
	Description      string
	MimeType         string
	ConversationUUID string
	UUID             string

	// 调用方透传的扩展字段
	Additional map[string]interface{}
}

// SourceInfo 调用方提供的来源元数据，原样透传到块中
type SourceInfo struct {
	Type             string
	Source           string
	Name             string
	Description      string
	MimeType         string
	ConversationUUID string
	Additional       map[string]interface{}
}

// Restore 还原块文本中的链接与图片占位符
func (c Chunk) Restore() string {
	return RestorePlaceholders(c.Text, c.Metadata.URLs, c.Metadata.Images)
}

func cloneHeaders(headers map[string][]string) map[string][]string {
	clone := make(map[string][]string, len(headers))
	for key, vals := range headers {
		copied := make([]string, len(vals))
		copy(copied, vals)
		clone[key] = copied
	}
	return clone
}
