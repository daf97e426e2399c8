package pairing

import (
	"fmt"
	"strings"

	"pairing-engine/internal/core/reconcile"
)

const systemPrompt = `You are a sommelier working for a single venue. You may only recommend wines that appear in the venue's list. Answer with JSON only.`

// BuildPrompt 依形狀組出提示詞，列出可推薦的庫存酒款
func BuildPrompt(shape reconcile.ShapeHint, menuText string, inventory []reconcile.InventoryItem, window reconcile.Window) string {
	var b strings.Builder

	switch shape {
	case reconcile.ShapeMenu:
		fmt.Fprintf(&b, `Read the attached menu and recommend wines for every dish. Rules:
1. Only list dishes that actually appear on the menu
2. Recommend between %d and %d wines per dish
3. Every wine name must be copied exactly from the venue list below
4. If nothing on the list suits a dish, use the name %q
5. Give a one-sentence rationale for each wine
Return JSON in this format:
{"dishes":[{"name":"dish name","description":"","course":"","recommendations":[{"name":"wine name","category":"red|white|rosé|sparkling|dessert","rationale":""}]}]}
`, window.Min, window.Max, reconcile.SentinelName)
	default:
		fmt.Fprintf(&b, `Read the attached wine list and pick the wines the venue should feature. Rules:
1. Recommend between %d and %d wines
2. Every wine name must be copied exactly from the venue list below
3. If nothing fits, use the name %q
Return JSON in this format:
{"wines":[{"name":"wine name","category":"","rationale":""}]}
`, window.Min, window.Max, reconcile.SentinelName)
	}

	if text := strings.TrimSpace(menuText); text != "" {
		b.WriteString("\nMenu text:\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	b.WriteString("\nVenue list:\n")
	for _, item := range inventory {
		if item.Kind == reconcile.KindDish {
			continue
		}
		b.WriteString("- ")
		b.WriteString(item.Name)
		if item.Category != "" {
			fmt.Fprintf(&b, " (%s)", item.Category)
		}
		if item.Price != nil {
			fmt.Fprintf(&b, " %.2f", *item.Price)
		}
		b.WriteString("\n")
	}
	return b.String()
}
