package reconcile

// PendingGroup 尚未套用上下限的分組
type PendingGroup struct {
	Parent   ParentRecord
	Entities []ResolvedEntity
}

// Assembler 重新分組、去重並套用數量上下限
type Assembler struct {
	window Window
}

// NewAssembler 創建 Assembler
func NewAssembler(window Window) *Assembler {
	return &Assembler{window: window.normalize()}
}

// Window 回傳修正後的上下限
func (a *Assembler) Window() Window {
	return a.window
}

// Assemble 每組的實體數量必定落在 [Min, Max]
func (a *Assembler) Assemble(groups []PendingGroup) []GroupedResult {
	results := make([]GroupedResult, 0, len(groups))
	for _, g := range groups {
		results = append(results, GroupedResult{
			Parent:   g.Parent,
			Entities: a.bound(dedupe(keepResolved(g.Entities))),
		})
	}
	return results
}

// keepResolved 丟掉未配對的實體，明確的占位實體保留
func keepResolved(entities []ResolvedEntity) []ResolvedEntity {
	kept := make([]ResolvedEntity, 0, len(entities))
	for _, e := range entities {
		if e.Sentinel || e.Resolved() {
			kept = append(kept, e)
		}
	}
	return kept
}

// dedupe 同一庫存品項只留信心最高者，位置沿用該筆原本的順序
func dedupe(entities []ResolvedEntity) []ResolvedEntity {
	best := make(map[string]int, len(entities))
	for i, e := range entities {
		if e.Sentinel {
			continue
		}
		j, seen := best[e.identity]
		if !seen || e.Confidence.rank() > entities[j].Confidence.rank() {
			best[e.identity] = i
		}
	}

	out := make([]ResolvedEntity, 0, len(entities))
	for i, e := range entities {
		if e.Sentinel || best[e.identity] == i {
			out = append(out, e)
		}
	}
	return out
}

// bound 不足補占位，超過則保留前 Max 筆
func (a *Assembler) bound(entities []ResolvedEntity) []ResolvedEntity {
	w := a.window
	if len(entities) > w.Max {
		entities = entities[:w.Max]
	}

	target := w.Min
	// 該有推薦卻完全沒有結果時，至少給一個占位
	if len(entities) == 0 && target == 0 && w.Max > 0 {
		target = 1
	}
	for len(entities) < target {
		entities = append(entities, NewSentinel(""))
	}
	return entities
}
