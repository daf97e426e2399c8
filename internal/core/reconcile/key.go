package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pairing-engine/internal/pkg/common"
)

// keyVersion 欄位組成改變時遞增，讓舊快取自然失效
const keyVersion = "v2"

// DeriveKey 由請求識別、形狀、設定與庫存指紋產生快取鍵；原始輸出文字不參與
func DeriveKey(keyBasis string, hint ShapeHint, opts Options, inventory []InventoryItem) string {
	window := opts.Window.normalize()
	rc := opts.Resolver.withDefaults()

	parts := []string{
		keyVersion,
		"basis=" + strings.TrimSpace(keyBasis),
		"shape=" + string(hint),
		fmt.Sprintf("window=%d-%d", window.Min, window.Max),
		fmt.Sprintf("resolver=%d/%.4f/%d/%d", rc.ContainmentMaxLengthDiff, rc.TokenOverlapRatio, rc.MaxEditDistance, rc.MinTokenLength),
		"confusion=" + confusionFingerprint(rc.ConfusionTable),
		"inventory=" + InventoryFingerprint(inventory),
	}
	return common.HashString(strings.Join(parts, "\n"))
}

// InventoryFingerprint 庫存摘要；順序有意義，同分候選取排在前面的品項
func InventoryFingerprint(inventory []InventoryItem) string {
	lines := make([]string, 0, len(inventory))
	for _, item := range inventory {
		price := "-"
		if item.Price != nil {
			price = strconv.FormatFloat(*item.Price, 'f', -1, 64)
		}
		lines = append(lines, strings.Join([]string{
			strings.TrimSpace(item.ID),
			strings.TrimSpace(item.Name),
			string(item.Kind),
			strings.ToLower(strings.TrimSpace(item.Category)),
			strings.ToLower(strings.TrimSpace(item.StyleBucket)),
			price,
			strings.TrimSpace(item.Description),
		}, "|"))
	}
	return common.HashString(strings.Join(lines, "\n"))
}

func confusionFingerprint(table map[string]string) string {
	pairs := make([]string, 0, len(table))
	for from, to := range table {
		pairs = append(pairs, strings.ToLower(from)+"="+strings.ToLower(to))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
