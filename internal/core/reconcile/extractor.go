package reconcile

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"pairing-engine/internal/pkg/common"
)

// 常見的外層陣列屬性，依序嘗試
var envelopeKeys = []string{
	"dishes", "menu", "items", "pairings", "recommendations",
	"wines", "wine_list", "results", "data",
}

// 欄位別名
var (
	dishNameKeys       = []string{"dish_name", "dish", "name", "item", "title"}
	wineNameKeys       = []string{"wine_name", "wine", "name", "label", "title"}
	descriptionKeys    = []string{"description", "dish_description", "desc", "notes"}
	rationaleKeys      = []string{"reason", "rationale", "pairing_reason", "why", "explanation", "description", "notes"}
	courseKeys         = []string{"course", "section", "category"}
	priceKeys          = []string{"price", "cost", "price_usd"}
	producerKeys       = []string{"producer", "winery", "house", "maker"}
	vintageKeys        = []string{"vintage", "year"}
	regionKeys         = []string{"region", "appellation", "origin"}
	varietalKeys       = []string{"varietal", "grape", "grapes", "variety"}
	wineCategoryKeys   = []string{"category", "type", "color", "colour"}
	styleKeys          = []string{"style", "style_bucket", "body"}
	forDishKeys        = []string{"for_dish", "pairs_with", "dish_name", "dish", "paired_dish"}
	recommendationKeys = []string{"wines", "pairings", "wine_pairings", "recommendations", "recommended_wines", "suggestions"}
	wineOnlyKeys       = []string{"wine_name", "wine", "varietal", "vintage", "producer", "grape"}
	recordNameKeys     = []string{"name", "dish_name", "dish", "wine_name", "wine"}
)

var (
	namePattern           = regexp.MustCompile(`"(name|dish_name|dish|wine_name|wine|title)"\s*:\s*"([^"\n]{1,160})"`)
	recommendationPattern = regexp.MustCompile(`"(?i:wines|pairings|wine_pairings|recommendations|recommended_wines|suggestions)"\s*:\s*\[`)
	pricePattern          = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)
	dishNameFields        = map[string]bool{"dish_name": true, "dish": true}
	wineNameFields        = map[string]bool{"wine_name": true, "wine": true}
)

// Extraction 擷取結果
type Extraction struct {
	Records     []ExtractedRecord
	Tier        ExtractionTier
	Diagnostics []string
}

// Extractor 從修復後文字擷取紀錄
type Extractor struct{}

// NewExtractor 創建 Extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract 依層級擷取紀錄；每一層只有在前一層完全沒有結果時才會嘗試
func (x *Extractor) Extract(text string, hint ShapeHint) (*Extraction, error) {
	result := &Extraction{Tier: TierNone}
	if strings.TrimSpace(text) == "" {
		return result, &MalformedInputError{Reason: "empty model output"}
	}

	values, decodeErr := common.DecodeJSONStream(text)
	if decodeErr != nil {
		result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("full decode failed: %v", decodeErr))
	}

	if decodeErr == nil {
		if records := x.direct(values, hint); len(records) > 0 {
			result.Records, result.Tier = records, TierDirect
			return result, nil
		}
		if records := x.envelope(values, hint); len(records) > 0 {
			result.Records, result.Tier = records, TierEnvelope
			return result, nil
		}
		result.Diagnostics = append(result.Diagnostics, "decoded payload has no recognizable records")
	}

	if records := x.fragments(text, hint); len(records) > 0 {
		result.Records, result.Tier = records, TierFragments
		result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("salvaged %d records from fragments", len(records)))
		return result, nil
	}

	if records := x.names(text, hint); len(records) > 0 {
		result.Records, result.Tier = records, TierNames
		result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("synthesized %d name-only placeholders", len(records)))
		return result, nil
	}

	reason := "no record recovered by any extraction tier"
	result.Diagnostics = append(result.Diagnostics, reason)
	return result, &MalformedInputError{Reason: reason}
}

// direct 頂層為陣列，或本身就是一筆紀錄的物件
func (x *Extractor) direct(values []interface{}, hint ShapeHint) []ExtractedRecord {
	var records []ExtractedRecord
	for _, v := range values {
		switch t := v.(type) {
		case []interface{}:
			records = append(records, x.flatten(t, hint, TierDirect, "")...)
		case map[string]interface{}:
			if hasEnvelope(t) {
				continue
			}
			if rec, ok := x.toRecord(t, hint, "", TierDirect); ok {
				records = append(records, rec)
			}
		}
	}
	return records
}

// envelope 物件內含已知名稱的陣列屬性
func (x *Extractor) envelope(values []interface{}, hint ShapeHint) []ExtractedRecord {
	var records []ExtractedRecord
	for _, v := range values {
		obj, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range envelopeKeys {
			arr, ok := lookup(obj, key).([]interface{})
			if !ok || len(arr) == 0 {
				continue
			}
			kind := RecordKind("")
			switch key {
			case "wines", "wine_list":
				kind = KindWine
			case "dishes":
				kind = KindDish
			}
			if flat := x.flatten(arr, hint, TierEnvelope, kind); len(flat) > 0 {
				records = append(records, flat...)
				break
			}
		}
	}
	return records
}

// flatten 展開陣列；物件依欄位判斷種類，字串元素視為只有名稱的紀錄
func (x *Extractor) flatten(arr []interface{}, hint ShapeHint, tier ExtractionTier, force RecordKind) []ExtractedRecord {
	records := make([]ExtractedRecord, 0, len(arr))
	for _, el := range arr {
		switch t := el.(type) {
		case map[string]interface{}:
			objForce := force
			if force == KindDish {
				// dishes 陣列內的物件仍依欄位判斷
				objForce = ""
			}
			if rec, ok := x.toRecord(t, hint, objForce, tier); ok {
				records = append(records, rec)
			}
		case string:
			name := strings.TrimSpace(t)
			if name == "" {
				continue
			}
			if force == KindDish {
				records = append(records, ExtractedRecord{Kind: KindDish, Dish: &DishRecord{Name: name}, Tier: tier})
				continue
			}
			records = append(records, ExtractedRecord{Kind: KindWine, Wine: &WineRecord{Name: name}, Tier: tier})
		}
	}
	return records
}

// toRecord 把鬆散的欄位對應成具型別的紀錄
func (x *Extractor) toRecord(obj map[string]interface{}, hint ShapeHint, force RecordKind, tier ExtractionTier) (ExtractedRecord, bool) {
	kind := force
	if kind == "" {
		kind = inferKind(obj, hint)
	}

	if kind == KindWine {
		wine := toWine(obj)
		if wine.Name == "" {
			return ExtractedRecord{}, false
		}
		return ExtractedRecord{Kind: KindWine, Wine: &wine, Tier: tier}, true
	}

	dish := DishRecord{
		Name:        firstString(obj, dishNameKeys),
		Description: firstString(obj, descriptionKeys),
		Course:      firstString(obj, courseKeys),
		Price:       firstPrice(obj),
	}
	for _, key := range recommendationKeys {
		arr, ok := lookup(obj, key).([]interface{})
		if !ok {
			continue
		}
		for _, el := range arr {
			switch w := el.(type) {
			case map[string]interface{}:
				if wine := toWine(w); wine.Name != "" {
					dish.Recommendations = append(dish.Recommendations, wine)
				}
			case string:
				if name := strings.TrimSpace(w); name != "" {
					dish.Recommendations = append(dish.Recommendations, WineRecord{Name: name})
				}
			}
		}
		break
	}
	if dish.Name == "" && len(dish.Recommendations) == 0 {
		return ExtractedRecord{}, false
	}
	return ExtractedRecord{Kind: KindDish, Dish: &dish, Tier: tier}, true
}

func toWine(obj map[string]interface{}) WineRecord {
	return WineRecord{
		Name:      firstString(obj, wineNameKeys),
		Producer:  firstString(obj, producerKeys),
		Vintage:   firstString(obj, vintageKeys),
		Region:    firstString(obj, regionKeys),
		Varietal:  firstString(obj, varietalKeys),
		Category:  firstString(obj, wineCategoryKeys),
		Style:     firstString(obj, styleKeys),
		Price:     firstPrice(obj),
		Rationale: firstString(obj, rationaleKeys),
		ForDish:   firstString(obj, forDishKeys),
	}
}

// inferKind 依欄位判斷紀錄種類
func inferKind(obj map[string]interface{}, hint ShapeHint) RecordKind {
	if hasAnyKey(obj, recommendationKeys) {
		return KindDish
	}
	if hint == ShapeWineList {
		return KindWine
	}
	if hasAnyKey(obj, wineOnlyKeys) {
		return KindWine
	}
	return KindDish
}

// hasEnvelope 帶有已知陣列屬性的外層物件；有名稱的物件只有在陣列不是推薦酒款時才算
func hasEnvelope(obj map[string]interface{}) bool {
	named := firstString(obj, recordNameKeys) != ""
	for _, key := range envelopeKeys {
		arr, ok := lookup(obj, key).([]interface{})
		if !ok {
			continue
		}
		if !named {
			return true
		}
		if len(arr) > 0 && !containsKey(recommendationKeys, key) {
			return true
		}
	}
	return false
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// fragments 逐一解析平衡的 {...} 片段；失敗的片段往內層找，並以名稱樣式做最低限度的救援
func (x *Extractor) fragments(text string, hint ShapeHint) []ExtractedRecord {
	var records []ExtractedRecord
	for _, span := range objectSpans(text) {
		records = append(records, x.salvage(span, hint, "")...)
	}
	return records
}

func (x *Extractor) salvage(span string, hint ShapeHint, force RecordKind) []ExtractedRecord {
	var obj map[string]interface{}
	if err := common.ParseJSON(span, &obj); err == nil {
		if rec, ok := x.toRecord(obj, hint, force, TierFragments); ok {
			return []ExtractedRecord{rec}
		}
		return nil
	}

	inner := ""
	if len(span) > 2 {
		inner = strings.TrimSuffix(span[1:], "}")
	}
	outer := outerText(span)
	ownIsDish := recommendationPattern.MatchString(outer)

	// 菜色底下的片段一律視為酒款，其餘沿用上層的種類
	childForce := force
	if ownIsDish {
		childForce = KindWine
	}
	var children []ExtractedRecord
	for _, child := range objectSpans(inner) {
		children = append(children, x.salvage(child, hint, childForce)...)
	}

	ownName, ownKey := "", ""
	if m := namePattern.FindStringSubmatch(outer); m != nil {
		ownName, ownKey = strings.TrimSpace(m[2]), m[1]
	}
	if ownName == "" {
		// 外層容器，例如 {"dishes": [...]}
		return children
	}

	kind := force
	if kind == "" {
		switch {
		case ownIsDish || dishNameFields[ownKey]:
			kind = KindDish
		case hint == ShapeWineList || wineNameFields[ownKey]:
			kind = KindWine
		default:
			kind = KindDish
		}
	}

	if kind == KindDish {
		dish := DishRecord{Name: ownName}
		for _, c := range children {
			if c.Wine != nil {
				dish.Recommendations = append(dish.Recommendations, *c.Wine)
			}
		}
		return []ExtractedRecord{{Kind: KindDish, Dish: &dish, Tier: TierFragments, Partial: true}}
	}

	wine := WineRecord{Name: ownName}
	records := []ExtractedRecord{{Kind: KindWine, Wine: &wine, Tier: TierFragments, Partial: true}}
	return append(records, children...)
}

// outerText 去掉內層物件後的片段文字
func outerText(span string) string {
	depth := 0
	var outer strings.Builder
	inString, escaped := false, false
	for i := 0; i < len(span); i++ {
		c := span[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			if depth <= 1 {
				outer.WriteByte(c)
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
			if depth > 1 {
				continue
			}
		case '}':
			depth--
			if depth >= 1 {
				continue
			}
		}
		if depth <= 1 {
			outer.WriteByte(c)
		}
	}
	return outer.String()
}

// names 最後手段：只用名稱樣式合成占位紀錄
func (x *Extractor) names(text string, hint ShapeHint) []ExtractedRecord {
	var records []ExtractedRecord
	var currentDish *DishRecord
	for _, m := range namePattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[2])
		if name == "" {
			continue
		}
		key := m[1]
		isWine := wineNameFields[key] || (!dishNameFields[key] && hint == ShapeWineList)
		if hint == ShapeMenu && isWine && currentDish != nil {
			currentDish.Recommendations = append(currentDish.Recommendations, WineRecord{Name: name})
			continue
		}
		if isWine {
			wine := WineRecord{Name: name}
			records = append(records, ExtractedRecord{Kind: KindWine, Wine: &wine, Tier: TierNames, Partial: true})
			continue
		}
		dish := &DishRecord{Name: name}
		records = append(records, ExtractedRecord{Kind: KindDish, Dish: dish, Tier: TierNames, Partial: true})
		currentDish = dish
	}
	return records
}

// objectSpans 找出字串感知下的頂層 {...} 片段；未關閉的片段延伸到文字結尾
func objectSpans(text string) []string {
	var spans []string
	depth, start := 0, -1
	inString, escaped := false, false
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
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, text[start:i+1])
				start = -1
			}
		}
	}
	if depth > 0 && start >= 0 {
		spans = append(spans, text[start:])
	}
	return spans
}

// lookup 不分大小寫取欄位
func lookup(obj map[string]interface{}, key string) interface{} {
	if v, ok := obj[key]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func hasAnyKey(obj map[string]interface{}, keys []string) bool {
	for _, key := range keys {
		if lookup(obj, key) != nil {
			return true
		}
	}
	return false
}

func firstString(obj map[string]interface{}, keys []string) string {
	for _, key := range keys {
		switch v := lookup(obj, key).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, el := range v {
				if s, ok := el.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	return ""
}

// firstPrice 接受數字或 "$48" 之類的字串
func firstPrice(obj map[string]interface{}) *float64 {
	for _, key := range priceKeys {
		switch v := lookup(obj, key).(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return &f
			}
		case float64:
			f := v
			return &f
		case string:
			if m := pricePattern.FindString(strings.ReplaceAll(v, ",", "")); m != "" {
				if f, err := strconv.ParseFloat(m, 64); err == nil {
					return &f
				}
			}
		}
	}
	return nil
}
