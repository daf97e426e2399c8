package reconcile

import (
	"sort"
	"strings"
)

// ResolverConfig 比對門檻，零值代表使用預設
type ResolverConfig struct {
	ContainmentMaxLengthDiff int
	TokenOverlapRatio        float64
	MaxEditDistance          int
	MinTokenLength           int
	ConfusionTable           map[string]string
}

const (
	DefaultContainmentMaxLengthDiff = 10
	DefaultTokenOverlapRatio        = 0.75
	DefaultMaxEditDistance          = 1
	DefaultMinTokenLength           = 3
)

// DefaultConfusionTable 常見的 OCR／轉寫混淆
func DefaultConfusionTable() map[string]string {
	return map[string]string{
		"0":  "o",
		"1":  "l",
		"5":  "s",
		"8":  "b",
		"rn": "m",
		"vv": "w",
	}
}

// withDefaults 補上預設值
func (c ResolverConfig) withDefaults() ResolverConfig {
	if c.ContainmentMaxLengthDiff <= 0 {
		c.ContainmentMaxLengthDiff = DefaultContainmentMaxLengthDiff
	}
	if c.TokenOverlapRatio <= 0 || c.TokenOverlapRatio > 1 {
		c.TokenOverlapRatio = DefaultTokenOverlapRatio
	}
	if c.MaxEditDistance <= 0 {
		c.MaxEditDistance = DefaultMaxEditDistance
	}
	if c.MinTokenLength <= 0 {
		c.MinTokenLength = DefaultMinTokenLength
	}
	if c.ConfusionTable == nil {
		c.ConfusionTable = DefaultConfusionTable()
	}
	return c
}

// descriptiveKeywords 出現在名稱中即可給 High 的品種／類別字
var descriptiveKeywords = []string{
	"cabernet", "sauvignon", "merlot", "pinot", "noir", "grigio", "gris", "chardonnay",
	"riesling", "syrah", "shiraz", "malbec", "zinfandel", "grenache", "garnacha",
	"tempranillo", "sangiovese", "nebbiolo", "gamay", "chenin", "viognier",
	"gewurztraminer", "albarino", "gruner", "semillon", "moscato", "muscat",
	"carmenere", "barbera", "mourvedre", "torrontes", "vermentino", "blanc",
	"champagne", "prosecco", "cava", "cremant", "brut", "sparkling", "rose",
	"port", "sherry", "madeira", "sauternes", "red", "white", "dessert",
}

// sentinelPhrases 模型自己表示沒有適合的選項
var sentinelPhrases = map[string]bool{
	"no suitable match": true,
	"no match":          true,
	"no pairing":        true,
	"none":              true,
	"n/a":               true,
	"na":                true,
}

// IsSentinelName 名稱是否為「無合適配對」的表示
func IsSentinelName(name string) bool {
	return sentinelPhrases[NormalizeName(name)]
}

// Resolution 比對結果
type Resolution struct {
	Item       *InventoryItem
	Tier       MatchTier
	Confidence Confidence
}

// Matched 是否有比對到庫存
func (r Resolution) Matched() bool {
	return r.Item != nil
}

// Resolver 以分層策略把名稱對應到庫存品項
type Resolver struct {
	cfg       ResolverConfig
	confusion []confusionPair
}

type confusionPair struct {
	from, to string
}

// NewResolver 創建 Resolver
func NewResolver(cfg ResolverConfig) *Resolver {
	cfg = cfg.withDefaults()

	pairs := make([]confusionPair, 0, len(cfg.ConfusionTable))
	for from, to := range cfg.ConfusionTable {
		if from == "" {
			continue
		}
		pairs = append(pairs, confusionPair{from: strings.ToLower(from), to: strings.ToLower(to)})
	}
	// 長的先換，同長度依字典序，確保結果穩定
	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i].from) != len(pairs[j].from) {
			return len(pairs[i].from) > len(pairs[j].from)
		}
		return pairs[i].from < pairs[j].from
	})

	return &Resolver{cfg: cfg, confusion: pairs}
}

// Config 回傳套用預設後的設定
func (r *Resolver) Config() ResolverConfig {
	return r.cfg
}

// Resolve 依序嘗試 exact、containment、token-overlap、confusion，第一個成功者勝出
func (r *Resolver) Resolve(name string, inventory []InventoryItem) Resolution {
	target := NormalizeName(name)
	if target == "" || len(inventory) == 0 {
		return Resolution{Tier: MatchNone}
	}

	if idx := r.exact(target, inventory); idx >= 0 {
		return r.resolution(&inventory[idx], MatchExact)
	}
	if idx := r.containment(target, inventory); idx >= 0 {
		return r.resolution(&inventory[idx], MatchContainment)
	}
	if idx := r.tokenOverlap(target, inventory, false); idx >= 0 {
		return r.resolution(&inventory[idx], MatchTokenOverlap)
	}
	if idx := r.tokenOverlap(target, inventory, true); idx >= 0 {
		return r.resolution(&inventory[idx], MatchConfusion)
	}
	return Resolution{Tier: MatchNone}
}

func (r *Resolver) exact(target string, inventory []InventoryItem) int {
	for i := range inventory {
		if inventory[i].Identity() == target {
			return i
		}
	}
	return -1
}

// containment 互相包含且長度差在門檻內；取長度差最小者
func (r *Resolver) containment(target string, inventory []InventoryItem) int {
	best, bestDiff := -1, r.cfg.ContainmentMaxLengthDiff+1
	for i := range inventory {
		candidate := inventory[i].Identity()
		if candidate == "" {
			continue
		}
		if !strings.Contains(candidate, target) && !strings.Contains(target, candidate) {
			continue
		}
		diff := len([]rune(candidate)) - len([]rune(target))
		if diff < 0 {
			diff = -diff
		}
		if diff <= r.cfg.ContainmentMaxLengthDiff && diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

// tokenOverlap fuzzy 為 true 時先套用混淆表，且每個詞允許編輯距離
func (r *Resolver) tokenOverlap(target string, inventory []InventoryItem, fuzzy bool) int {
	if fuzzy {
		target = r.correct(target)
	}
	targetTokens := tokenize(target, r.cfg.MinTokenLength)
	if len(targetTokens) == 0 {
		return -1
	}

	best, bestScore := -1, 0.0
	for i := range inventory {
		candidate := inventory[i].Identity()
		if fuzzy {
			candidate = r.correct(candidate)
		}
		score, ok := r.overlapScore(targetTokens, tokenize(candidate, r.cfg.MinTokenLength), fuzzy)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// overlapScore 短集合有多少比例出現在長集合；或首詞相同且另有一詞相符
func (r *Resolver) overlapScore(a, b []string, fuzzy bool) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	shorter, longer := a, b
	if len(b) < len(a) {
		shorter, longer = b, a
	}

	distance := 0
	if fuzzy {
		distance = r.cfg.MaxEditDistance
	}

	matched := 0
	for _, s := range shorter {
		for _, l := range longer {
			if fuzzyTokenMatch(s, l, distance) {
				matched++
				break
			}
		}
	}
	ratio := float64(matched) / float64(len(shorter))
	if ratio >= r.cfg.TokenOverlapRatio {
		return ratio, true
	}

	// 首詞完全相同，且其餘詞至少一個相同或編輯距離在門檻內
	if a[0] != b[0] {
		return 0, false
	}
	for _, s := range a[1:] {
		for _, l := range b[1:] {
			if fuzzyTokenMatch(s, l, r.cfg.MaxEditDistance) {
				return ratio, true
			}
		}
	}
	return 0, false
}

// correct 套用混淆表
func (r *Resolver) correct(s string) string {
	for _, p := range r.confusion {
		s = strings.ReplaceAll(s, p.from, p.to)
	}
	return s
}

// resolution 信心等級只在這裡決定一次
func (r *Resolver) resolution(item *InventoryItem, tier MatchTier) Resolution {
	return Resolution{Item: item, Tier: tier, Confidence: assignConfidence(item, tier)}
}

// assignConfidence 缺分類且非完全相符為 Low；名稱含品種／類別字且非混淆層為 High；其餘 Medium
func assignConfidence(item *InventoryItem, tier MatchTier) Confidence {
	if strings.TrimSpace(item.Category) == "" && tier != MatchExact {
		return ConfidenceLow
	}
	if tier == MatchConfusion {
		return ConfidenceMedium
	}
	name := foldText(item.Name)
	for _, kw := range descriptiveKeywords {
		if containsWord(name, kw) {
			return ConfidenceHigh
		}
	}
	return ConfidenceMedium
}
