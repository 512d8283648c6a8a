package knowledge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ExtractHeaders 扫描文本中行首的markdown标题（#到######）
//
// 同一级别的多个标题按出现顺序全部记录，键为 h1..h6。
func ExtractHeaders(text string) map[string][]string {
	headers := make(map[string][]string)
	for _, line := range strings.Split(text, "\n") {
		level := 0
		for level < len(line) && level < 7 && line[level] == '#' {
			level++
		}
		if level == 0 || level > 6 || level >= len(line) {
			continue
		}
		rest := line[level:]
		if rest[0] != ' ' && rest[0] != '\t' {
			continue
		}
		content := strings.TrimSpace(rest)
		if content == "" {
			continue
		}
		key := fmt.Sprintf("h%d", level)
		headers[key] = append(headers[key], content)
	}
	return headers
}

// MergeHeaders 将新提取的标题合并进当前标题上下文
//
// 设置级别L的标题会清除所有大于L的已记录标题，h1不受新h2影响。
func MergeHeaders(current, extracted map[string][]string) {
	for level := 1; level <= 6; level++ {
		key := fmt.Sprintf("h%d", level)
		vals, ok := extracted[key]
		if !ok {
			continue
		}
		current[key] = vals
		for lower := level + 1; lower <= 6; lower++ {
			delete(current, fmt.Sprintf("h%d", lower))
		}
	}
}

// ExtractLinks 提取文本中的链接与图片并替换为占位符
//
// 先整体扫描图片语法 ![alt](target)，再扫描链接语法
// [label](target)，已替换为图片占位符的目标不会被二次捕获。
// 占位符携带从零开始的序号，形如 {{$img0}} 与 {{$url0}}，
// 还原时顺序无歧义。
func ExtractLinks(text string) (string, []string, []string) {
	content, images := extractImages(text)
	content, urls := extractURLs(content)
	return content, urls, images
}

func extractImages(text string) (string, []string) {
	var out strings.Builder
	out.Grow(len(text))
	var images []string

	i := 0
	for i < len(text) {
		if text[i] == '!' && i+1 < len(text) && text[i+1] == '[' {
			if alt, target, next, ok := parseLinkAt(text, i+1, true); ok {
				out.WriteString(fmt.Sprintf("![%s]({{$img%d}})", alt, len(images)))
				images = append(images, target)
				i = next
				continue
			}
		}
		out.WriteByte(text[i])
		i++
	}
	return out.String(), images
}

func extractURLs(text string) (string, []string) {
	var out strings.Builder
	out.Grow(len(text))
	var urls []string

	i := 0
	for i < len(text) {
		if text[i] == '[' {
			if label, target, next, ok := parseLinkAt(text, i, false); ok {
				if strings.HasPrefix(target, "{{$img") {
					// 图片占位符的包装不再处理，原样跳过
					out.WriteString(text[i:next])
				} else {
					out.WriteString(fmt.Sprintf("[%s]({{$url%d}})", label, len(urls)))
					urls = append(urls, target)
				}
				i = next
				continue
			}
		}
		out.WriteByte(text[i])
		i++
	}
	return out.String(), urls
}

// parseLinkAt 在pos（指向'['）处解析 [text](target)
//
// text部分不含']'，target部分非空且不含')'；图片的alt可为空，
// 链接的label不可为空。返回标签、目标与语法结束后的下一个位置。
func parseLinkAt(text string, pos int, allowEmptyLabel bool) (string, string, int, bool) {
	closeBracket := strings.IndexByte(text[pos+1:], ']')
	if closeBracket == -1 {
		return "", "", 0, false
	}
	labelEnd := pos + 1 + closeBracket
	label := text[pos+1 : labelEnd]
	if !allowEmptyLabel && label == "" {
		return "", "", 0, false
	}
	if labelEnd+1 >= len(text) || text[labelEnd+1] != '(' {
		return "", "", 0, false
	}
	closeParen := strings.IndexByte(text[labelEnd+2:], ')')
	if closeParen == -1 {
		return "", "", 0, false
	}
	target := text[labelEnd+2 : labelEnd+2+closeParen]
	if target == "" {
		return "", "", 0, false
	}
	return label, target, labelEnd + 2 + closeParen + 1, true
}

var (
	imgPlaceholderRe = regexp.MustCompile(`!\[([^\]]*)\]\(\{\{\$img(\d+)\}\}\)`)
	urlPlaceholderRe = regexp.MustCompile(`\[([^\]]*)\]\(\{\{\$url(\d+)\}\}\)`)
)

// RestorePlaceholders 还原占位符为原始链接与图片地址
//
// 链接标签中的下划线会转义为\_，避免下游markdown渲染器
// 将其解析为强调语法；该转换不可逆。
func RestorePlaceholders(text string, urls, images []string) string {
	restored := imgPlaceholderRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := imgPlaceholderRe.FindStringSubmatch(match)
		idx, err := strconv.Atoi(groups[2])
		if err != nil || idx >= len(images) {
			return match
		}
		return fmt.Sprintf("![%s](%s)", groups[1], images[idx])
	})

	restored = urlPlaceholderRe.ReplaceAllStringFunc(restored, func(match string) string {
		groups := urlPlaceholderRe.FindStringSubmatch(match)
		idx, err := strconv.Atoi(groups[2])
		if err != nil || idx >= len(urls) {
			return match
		}
		label := strings.ReplaceAll(groups[1], "_", `\_`)
		return fmt.Sprintf("[%s](%s)", label, urls[idx])
	})

	return restored
}
