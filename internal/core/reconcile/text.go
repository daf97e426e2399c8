package reconcile

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// genericTokens 太常見、無法單獨代表一個品項的字
var genericTokens = map[string]bool{
	"the": true, "and": true, "wine": true, "wines": true, "reserve": true,
	"reserva": true, "glass": true, "bottle": true, "house": true, "estate": true,
	"vineyard": true, "vineyards": true, "selection": true, "cuvee": true,
	"les": true, "del": true, "della": true, "with": true,
}

// foldDiacritics 去除變音符號，Rosé -> Rose
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName 去頭尾空白、轉小寫、合併空白並去除變音符號
func NormalizeName(s string) string {
	s = foldDiacritics(strings.ToLower(strings.TrimSpace(s)))
	return strings.Join(strings.Fields(s), " ")
}

// foldText 關鍵字比對用：正規化並把標點換成空白
func foldText(s string) string {
	s = punctuationRegex.ReplaceAllString(NormalizeName(s), " ")
	return strings.Join(strings.Fields(s), " ")
}

// tokenize 以空白與標點切詞，丟棄過短與泛用字
func tokenize(s string, minLen int) []string {
	words := strings.Fields(foldText(s))

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < minLen {
			continue
		}
		if genericTokens[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// containsWord 以字詞邊界比對關鍵字，phrase 與 text 都須先經 foldText
func containsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// levenshteinDistance 兩列滾動陣列計算編輯距離
func levenshteinDistance(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,
				curr[j-1]+1,
				prev[j-1]+cost,
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

// fuzzyTokenMatch 相同，或長度皆 >= 4 且編輯距離在門檻內
func fuzzyTokenMatch(a, b string, maxDistance int) bool {
	if a == b {
		return true
	}
	if maxDistance <= 0 {
		return false
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la < 4 || lb < 4 {
		return false
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if diff > maxDistance {
		return false
	}
	return levenshteinDistance(a, b) <= maxDistance
}
