package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairing-engine/internal/core/ai/cache"
	"pairing-engine/internal/pkg/common"
	"pairing-engine/internal/pkg/metrics"

	"go.uber.org/zap"
)

// Options 流程設定
type Options struct {
	Window   Window
	Resolver ResolverConfig
}

// DefaultOptions 每組 3 筆與預設比對門檻
func DefaultOptions() Options {
	return Options{Window: Window{Min: 3, Max: 3}}
}

// Request 已取得模型輸出的對帳請求
type Request struct {
	Output    RawModelOutput
	Inventory []InventoryItem

	// KeyBasis 為空時不使用快取
	KeyBasis string

	// Window 非 nil 時覆蓋預設上下限
	Window *Window
}

// LazyRequest 只有在快取未命中時才呼叫 Fetch 取得模型輸出
type LazyRequest struct {
	KeyBasis      string
	Shape         ShapeHint
	Inventory     []InventoryItem
	CorrelationID string
	Window        *Window
	Fetch         func(ctx context.Context) (RawModelOutput, error)
}

// Result 對帳結果
type Result struct {
	Groups        []GroupedResult `json:"groups"`
	Tier          ExtractionTier  `json:"extraction_tier"`
	Repairs       []string        `json:"repairs,omitempty"`
	Diagnostics   []string        `json:"diagnostics,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	CacheHit      bool            `json:"cache_hit"`
}

// clone 快取內的結果共用，回傳前複製一份
func (r *Result) clone() *Result {
	out := *r
	out.Groups = make([]GroupedResult, len(r.Groups))
	for i, g := range r.Groups {
		out.Groups[i] = GroupedResult{
			Parent:   g.Parent,
			Entities: append([]ResolvedEntity(nil), g.Entities...),
		}
	}
	out.Repairs = append([]string(nil), r.Repairs...)
	out.Diagnostics = append([]string(nil), r.Diagnostics...)
	return &out
}

// Pipeline 修復、擷取、比對、分類、組裝
type Pipeline struct {
	opts      Options
	sanitizer *Sanitizer
	extractor *Extractor
	resolver  *Resolver
	taxonomy  *Taxonomy
	cache     *cache.ResponseCache[*Result]
}

// NewPipeline 創建 Pipeline；responses 為 nil 時不快取
func NewPipeline(opts Options, responses *cache.ResponseCache[*Result]) *Pipeline {
	opts.Window = opts.Window.normalize()
	resolver := NewResolver(opts.Resolver)
	opts.Resolver = resolver.Config()

	return &Pipeline{
		opts:      opts,
		sanitizer: NewSanitizer(),
		extractor: NewExtractor(),
		resolver:  resolver,
		taxonomy:  NewTaxonomy(),
		cache:     responses,
	}
}

// Options 回傳套用預設後的設定
func (p *Pipeline) Options() Options {
	return p.opts
}

// Reconcile 對一段已取得的模型輸出執行完整流程
func (p *Pipeline) Reconcile(ctx context.Context, req Request) (*Result, error) {
	shape := req.Output.Group
	output := req.Output
	if output.CorrelationID == "" {
		output.CorrelationID = common.GenerateUUID()
	}

	return p.run(ctx, req.KeyBasis, shape, req.Inventory, req.Window, output.CorrelationID,
		func(context.Context) (RawModelOutput, error) { return output, nil })
}

// ReconcileLazy 命中快取時不呼叫 Fetch
func (p *Pipeline) ReconcileLazy(ctx context.Context, req LazyRequest) (*Result, error) {
	if req.Fetch == nil {
		return nil, fmt.Errorf("reconcile: fetch function is required")
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = common.GenerateUUID()
	}

	return p.run(ctx, req.KeyBasis, req.Shape, req.Inventory, req.Window, correlationID,
		func(ctx context.Context) (RawModelOutput, error) {
			out, err := req.Fetch(ctx)
			if err != nil {
				return out, err
			}
			if out.CorrelationID == "" {
				out.CorrelationID = correlationID
			}
			if out.Group == "" {
				out.Group = req.Shape
			}
			return out, nil
		})
}

func (p *Pipeline) run(
	ctx context.Context,
	keyBasis string,
	shape ShapeHint,
	inventory []InventoryItem,
	override *Window,
	correlationID string,
	fetch func(ctx context.Context) (RawModelOutput, error),
) (*Result, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("reconcile: unsupported shape hint %q", shape)
	}

	opts := p.opts
	if override != nil {
		opts.Window = override.normalize()
	}

	if p.cache == nil || keyBasis == "" {
		out, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return p.process(ctx, out, inventory, opts.Window)
	}

	key := DeriveKey(keyBasis, shape, opts, inventory)
	var failed *Result
	result, hit, err := p.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*Result, error) {
		out, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		res, err := p.process(ctx, out, inventory, opts.Window)
		if err != nil {
			failed = res
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return failed, err
	}

	out := result.clone()
	out.CacheHit = hit
	if hit {
		out.CorrelationID = correlationID
		common.LogDebug("對帳結果取自快取",
			zap.String("correlation_id", correlationID),
			zap.String("shape", string(shape)),
		)
	}
	return out, nil
}

// process 單次對帳，不涉及快取；擷取失敗時回傳空分組與錯誤
func (p *Pipeline) process(ctx context.Context, out RawModelOutput, inventory []InventoryItem, window Window) (res *Result, err error) {
	start := time.Now()
	shape := out.Group
	res = &Result{
		Groups:        []GroupedResult{},
		Tier:          TierNone,
		CorrelationID: out.CorrelationID,
	}
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrMalformedInput):
			outcome = "malformed"
		case err != nil:
			outcome = "error"
		}
		metrics.PipelineDuration.WithLabelValues(string(shape), outcome).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, repairs := p.sanitizer.SanitizeWithReport(out.Text)
	res.Repairs = repairs
	for _, name := range repairs {
		metrics.RepairsApplied.WithLabelValues(name).Inc()
	}
	if len(repairs) > 0 {
		common.LogDebug("模型輸出已修復",
			zap.String("correlation_id", out.CorrelationID),
			zap.Strings("strategies", repairs),
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	extraction, err := p.extractor.Extract(text, shape)
	res.Tier = extraction.Tier
	res.Diagnostics = append(res.Diagnostics, extraction.Diagnostics...)
	metrics.ExtractionTotal.WithLabelValues(string(shape), string(extraction.Tier)).Inc()
	if err != nil {
		common.LogWarn("模型輸出無法擷取",
			zap.String("correlation_id", out.CorrelationID),
			zap.String("shape", string(shape)),
			zap.String("raw_output", out.Text),
			zap.Error(err),
		)
		return res, err
	}
	if extraction.Tier == TierFragments || extraction.Tier == TierNames {
		common.LogWarn("模型輸出以殘片模式擷取",
			zap.String("correlation_id", out.CorrelationID),
			zap.String("tier", string(extraction.Tier)),
			zap.Int("records", len(extraction.Records)),
		)
	} else {
		common.LogDebug("模型輸出擷取完成",
			zap.String("correlation_id", out.CorrelationID),
			zap.String("tier", string(extraction.Tier)),
			zap.Int("records", len(extraction.Records)),
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := pairable(inventory)
	pending := p.group(extraction.Records, shape, candidates)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Groups = NewAssembler(window).Assemble(pending)
	for _, g := range res.Groups {
		for _, e := range g.Entities {
			if e.Sentinel {
				metrics.SentinelsPadded.Inc()
			}
		}
	}
	return res, nil
}

// pairable 只有酒款（或未標種類者）可以被推薦
func pairable(inventory []InventoryItem) []InventoryItem {
	out := make([]InventoryItem, 0, len(inventory))
	for _, item := range inventory {
		if item.Kind == KindDish {
			continue
		}
		out = append(out, item)
	}
	return out
}

// group 菜色各自成組；帶 ForDish 的酒款併入對應菜色，其餘歸入以形狀命名的組
func (p *Pipeline) group(records []ExtractedRecord, shape ShapeHint, inventory []InventoryItem) []PendingGroup {
	var groups []PendingGroup
	index := make(map[string]int)

	ensure := func(key string, parent ParentRecord) int {
		if i, ok := index[key]; ok {
			// 先由 ForDish 建立的暫時組，之後遇到完整菜色時補齊
			if groups[i].Parent.Partial && !parent.Partial {
				groups[i].Parent = parent
			}
			return i
		}
		groups = append(groups, PendingGroup{Parent: parent})
		index[key] = len(groups) - 1
		return len(groups) - 1
	}

	for _, rec := range records {
		switch rec.Kind {
		case KindDish:
			if rec.Dish == nil {
				continue
			}
			d := rec.Dish
			i := ensure("dish:"+NormalizeName(d.Name), ParentRecord{
				Kind:        KindDish,
				Name:        d.Name,
				Description: d.Description,
				Course:      d.Course,
				Price:       d.Price,
				Partial:     rec.Partial,
			})
			for _, w := range d.Recommendations {
				groups[i].Entities = append(groups[i].Entities, p.resolveEntity(w, inventory))
			}
		case KindWine:
			if rec.Wine == nil {
				continue
			}
			w := rec.Wine
			var i int
			if w.ForDish != "" {
				i = ensure("dish:"+NormalizeName(w.ForDish), ParentRecord{Kind: KindDish, Name: w.ForDish, Partial: true})
			} else {
				i = ensure("list", ParentRecord{Kind: KindList, Name: string(shape)})
			}
			groups[i].Entities = append(groups[i].Entities, p.resolveEntity(*w, inventory))
		}
	}
	return groups
}

// resolveEntity 模型明確表示無配對時直接給占位；未配對者在組裝時丟棄
func (p *Pipeline) resolveEntity(w WineRecord, inventory []InventoryItem) ResolvedEntity {
	if IsSentinelName(w.Name) {
		s := NewSentinel(w.Name)
		s.Rationale = w.Rationale
		metrics.MatchTotal.WithLabelValues(string(MatchSentinel), "").Inc()
		return s
	}

	res := p.resolver.Resolve(w.Name, inventory)
	if !res.Matched() {
		metrics.MatchTotal.WithLabelValues(string(MatchNone), "").Inc()
		common.LogDebug("名稱未對應到庫存", zap.String("name", w.Name))
		return ResolvedEntity{Name: w.Name, SourceName: w.Name, MatchTier: MatchNone, Rationale: w.Rationale}
	}

	metrics.MatchTotal.WithLabelValues(string(res.Tier), string(res.Confidence)).Inc()
	category, bucket := p.taxonomy.Normalize(*res.Item)
	if !ValidBucket(category, bucket) {
		common.LogWarn("分桶不屬於類別，改用預設分桶",
			zap.String("category", string(category)),
			zap.String("bucket", string(bucket)),
		)
		bucket = DefaultBucket(category)
	}
	price := res.Item.Price
	if price == nil {
		price = w.Price
	}
	return ResolvedEntity{
		Name:        res.Item.Name,
		ItemID:      res.Item.ID,
		SourceName:  w.Name,
		Category:    category,
		StyleBucket: bucket,
		Confidence:  res.Confidence,
		MatchTier:   res.Tier,
		Price:       price,
		Rationale:   w.Rationale,
		identity:    res.Item.Identity(),
	}
}
