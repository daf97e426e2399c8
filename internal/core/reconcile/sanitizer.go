package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"pairing-engine/internal/pkg/common"
)

// 整個修復流程最多重跑幾輪，用來收斂到不動點
const maxSanitizePasses = 3

// RepairStrategy 具名的修復策略，Apply 回傳修改後文字與是否有變動
type RepairStrategy struct {
	Name  string
	Apply func(text string) (string, bool)
}

// DefaultRepairStrategies 預設修復策略，依序套用
func DefaultRepairStrategies() []RepairStrategy {
	return []RepairStrategy{
		{Name: "quote-bare-keys", Apply: quoteBareKeys},
		{Name: "requote-bleeding-value", Apply: requoteBleedingValue},
		{Name: "quote-bare-value", Apply: quoteBareValue},
		{Name: "insert-missing-commas", Apply: insertMissingCommas},
		{Name: "drop-trailing-commas", Apply: dropTrailingCommas},
		{Name: "close-truncated-payload", Apply: closeTruncatedPayload},
	}
}

// Sanitizer 在解析前修復模型輸出的結構問題
type Sanitizer struct {
	strategies []RepairStrategy
}

// NewSanitizer 創建 Sanitizer，未指定策略時使用預設策略
func NewSanitizer(strategies ...RepairStrategy) *Sanitizer {
	if len(strategies) == 0 {
		strategies = DefaultRepairStrategies()
	}
	return &Sanitizer{strategies: strategies}
}

// Sanitize 修復文字，永不失敗；無法修復的部分原樣保留
func (s *Sanitizer) Sanitize(text string) string {
	out, _ := s.SanitizeWithReport(text)
	return out
}

// SanitizeWithReport 修復文字並回傳實際生效的策略名稱
func (s *Sanitizer) SanitizeWithReport(text string) (string, []string) {
	out := text
	var applied []string
	for pass := 0; pass < maxSanitizePasses; pass++ {
		next, names := s.pass(out)
		applied = append(applied, names...)
		if next == out {
			break
		}
		out = next
	}
	return out, applied
}

func (s *Sanitizer) pass(text string) (string, []string) {
	out := stripFences(text)
	out = escapeControlChars(out)
	if isDecodable(out) {
		return out, nil
	}

	var applied []string
	for _, strategy := range s.strategies {
		next, changed := strategy.Apply(out)
		if !changed {
			continue
		}
		out = next
		applied = append(applied, strategy.Name)
		if isDecodable(out) {
			break
		}
	}
	return out, applied
}

// isDecodable 文字是否為一個或多個連續的合法 JSON 值
func isDecodable(text string) bool {
	values, err := common.DecodeJSONStream(text)
	return err == nil && len(values) > 0
}

var fenceMarker = regexp.MustCompile("```[A-Za-z0-9_-]*")

// stripFences 移除資料前後的說明文字；區塊標記只在字串外移除，字串內容原樣保留
func stripFences(text string) string {
	out := strings.TrimSpace(text)
	start := strings.IndexAny(out, "{[")
	if start < 0 {
		return strings.TrimSpace(fenceMarker.ReplaceAllString(out, ""))
	}

	out, _ = mapOutside(out[start:], func(s string) string {
		return fenceMarker.ReplaceAllString(s, "")
	})
	out = strings.TrimSpace(out)

	end := strings.LastIndexAny(out, "}]")
	if end < 0 {
		return out
	}
	// 最後一個括號後若還有結構字元，代表資料被截斷而不是結尾說明
	if tail := out[end+1:]; strings.ContainsAny(tail, "{[\"") {
		return out
	}
	return out[:end+1]
}

// escapeControlChars 跳脫字串內的控制字元；非法的反斜線會被加倍
func escapeControlChars(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)

	inString := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if !inString {
			if c == '"' {
				inString = true
			} else if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
				continue
			}
			b.WriteByte(c)
			continue
		}

		switch {
		case c == '\\':
			if isValidEscape(text, i+1) {
				b.WriteByte(c)
				b.WriteByte(text[i+1])
				i++
			} else {
				b.WriteString(`\\`)
			}
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\t':
			b.WriteString(`\t`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\b':
			b.WriteString(`\b`)
		case c == '\f':
			b.WriteString(`\f`)
		case c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// isValidEscape text[i] 是否為合法跳脫序列的第二個字元
func isValidEscape(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	switch text[i] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+4 >= len(text) {
			return false
		}
		for _, h := range text[i+1 : i+5] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", h) {
				return false
			}
		}
		return true
	}
	return false
}

// segment 以字串邊界切開的片段
type segment struct {
	text   string
	quoted bool
	closed bool
}

// splitSegments 把文字切成字串內與字串外的片段
func splitSegments(text string) []segment {
	var segs []segment
	start := 0
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if !inString {
			if c == '"' {
				segs = append(segs, segment{text: text[start:i]})
				inString = true
				start = i + 1
			}
			continue
		}
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			segs = append(segs, segment{text: text[start:i], quoted: true, closed: true})
			inString = false
			start = i + 1
		}
	}
	segs = append(segs, segment{text: text[start:], quoted: inString})
	return segs
}

func joinSegments(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		if !s.quoted {
			b.WriteString(s.text)
			continue
		}
		b.WriteByte('"')
		b.WriteString(s.text)
		if s.closed {
			b.WriteByte('"')
		}
	}
	return b.String()
}

// mapOutside 只對字串外的片段套用 fn
func mapOutside(text string, fn func(string) string) (string, bool) {
	segs := splitSegments(text)
	changed := false
	for i := range segs {
		if segs[i].quoted {
			continue
		}
		if next := fn(segs[i].text); next != segs[i].text {
			segs[i].text = next
			changed = true
		}
	}
	if !changed {
		return text, false
	}
	return joinSegments(segs), true
}

func quoteBareKeys(text string) (string, bool) {
	return mapOutside(text, common.QuoteJSONKeys)
}

var trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)

func dropTrailingCommas(text string) (string, bool) {
	return mapOutside(text, func(s string) string {
		return trailingCommaPattern.ReplaceAllString(s, "$1")
	})
}

var adjacentObjectsPattern = regexp.MustCompile(`}(\s*){`)

// insertMissingCommas 補上物件之間、以及值與下一個鍵之間漏掉的逗號
func insertMissingCommas(text string) (string, bool) {
	segs := splitSegments(text)
	changed := false
	for i := range segs {
		if segs[i].quoted {
			continue
		}
		if next := adjacentObjectsPattern.ReplaceAllString(segs[i].text, "},$1{"); next != segs[i].text {
			segs[i].text = next
			changed = true
		}
		// "value" "key": 的情形，中間只有空白
		if i == 0 || i+2 >= len(segs) || !segs[i-1].quoted || !segs[i-1].closed || !segs[i+1].quoted {
			continue
		}
		if strings.TrimSpace(segs[i].text) != "" || i < 2 || !strings.HasSuffix(strings.TrimSpace(segs[i-2].text), ":") {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(segs[i+2].text), ":") {
			segs[i].text = ", "
			changed = true
		}
	}
	if !changed {
		return text, false
	}
	return joinSegments(segs), true
}

var bleedingTailPattern = regexp.MustCompile(`^(\s*)([^\s,{}\[\]:\\\x00-\x1f][^,{}\[\]:\\\x00-\x1f]*?)(\s*[,}\]][\s\S]*)$`)

// requoteBleedingValue "name": "X" 2015 Reserve, -> "name": "X 2015 Reserve",
func requoteBleedingValue(text string) (string, bool) {
	segs := splitSegments(text)
	changed := false
	for i := 1; i+1 < len(segs); i++ {
		if !segs[i].quoted || !segs[i].closed || segs[i-1].quoted || segs[i+1].quoted {
			continue
		}
		if !strings.HasSuffix(strings.TrimSpace(segs[i-1].text), ":") {
			continue
		}
		m := bleedingTailPattern.FindStringSubmatch(segs[i+1].text)
		if m == nil {
			continue
		}
		segs[i].text = strings.TrimRight(segs[i].text, " ") + " " + strings.TrimSpace(m[2])
		segs[i+1].text = m[3]
		changed = true
	}
	if !changed {
		return text, false
	}
	return joinSegments(segs), true
}

var bareValuePattern = regexp.MustCompile(`^(\s*:\s*)([A-Za-z][^,{}\[\]:"\\\x00-\x1f]*?)(\s*[,}\]][\s\S]*)$`)

// quoteBareValue "name": Chateau X, -> "name": "Chateau X",
func quoteBareValue(text string) (string, bool) {
	segs := splitSegments(text)
	changed := false
	for i := 1; i < len(segs); i++ {
		if segs[i].quoted || !segs[i-1].quoted || !segs[i-1].closed {
			continue
		}
		m := bareValuePattern.FindStringSubmatch(segs[i].text)
		if m == nil {
			continue
		}
		switch m[2] {
		case "true", "false", "null":
			continue
		}
		segs[i].text = m[1] + `"` + m[2] + `"` + m[3]
		changed = true
	}
	if !changed {
		return text, false
	}
	return joinSegments(segs), true
}

// closeTruncatedPayload 截到最後一個完整的 } 或 ]，再補上尚未關閉的括號
func closeTruncatedPayload(text string) (string, bool) {
	var stack, cutStack []byte
	inString, escaped := false, false
	lastCut := -1

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 || !closes(stack[len(stack)-1], c) {
				continue
			}
			stack = stack[:len(stack)-1]
			lastCut = i + 1
			cutStack = append(cutStack[:0], stack...)
		}
	}

	if (len(stack) == 0 && !inString) || lastCut < 0 {
		return text, false
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(text[:lastCut], " \t\r\n"))
	for j := len(cutStack) - 1; j >= 0; j-- {
		if cutStack[j] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String(), true
}

func closes(open, close byte) bool {
	return (open == '{' && close == '}') || (open == '[' && close == ']')
}
