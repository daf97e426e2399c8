package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// ShapeHint 模型輸出所屬的邏輯群組
type ShapeHint string

const (
	ShapeMenu     ShapeHint = "menu"
	ShapeWineList ShapeHint = "wine-list"
)

// Valid 檢查是否為支援的形狀
func (h ShapeHint) Valid() bool {
	return h == ShapeMenu || h == ShapeWineList
}

// RecordKind 紀錄種類
type RecordKind string

const (
	KindDish RecordKind = "dish"
	KindWine RecordKind = "wine"
	// KindList 沒有所屬菜色的酒款，依形狀歸成一組
	KindList RecordKind = "list"
)

// ExtractionTier 產生紀錄的擷取層級
type ExtractionTier string

const (
	TierNone      ExtractionTier = "none"
	TierDirect    ExtractionTier = "direct"
	TierEnvelope  ExtractionTier = "envelope"
	TierFragments ExtractionTier = "fragments"
	TierNames     ExtractionTier = "names"
)

// MatchTier 實體比對成功的層級
type MatchTier string

const (
	MatchNone         MatchTier = "none"
	MatchExact        MatchTier = "exact"
	MatchContainment  MatchTier = "containment"
	MatchTokenOverlap MatchTier = "token-overlap"
	MatchConfusion    MatchTier = "confusion"
	MatchSentinel     MatchTier = "sentinel"
)

// Confidence 信心等級
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// rank 用於去重時比較高低
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// SentinelName 無合適配對時的占位名稱
const SentinelName = "No suitable match"

// RawModelOutput 模型原始輸出與來源資訊
type RawModelOutput struct {
	Text          string
	CorrelationID string
	ReceivedAt    time.Time
	Group         ShapeHint
}

// WineRecord 模型輸出中的酒款
type WineRecord struct {
	Name      string   `json:"name"`
	Producer  string   `json:"producer,omitempty"`
	Vintage   string   `json:"vintage,omitempty"`
	Region    string   `json:"region,omitempty"`
	Varietal  string   `json:"varietal,omitempty"`
	Category  string   `json:"category,omitempty"`
	Style     string   `json:"style,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
	ForDish   string   `json:"for_dish,omitempty"`
}

// DishRecord 模型輸出中的菜色，Recommendations 為其推薦酒款
type DishRecord struct {
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	Course          string       `json:"course,omitempty"`
	Price           *float64     `json:"price,omitempty"`
	Recommendations []WineRecord `json:"recommendations,omitempty"`
}

// ExtractedRecord 擷取後的紀錄，Dish 與 Wine 只會有一個非 nil
type ExtractedRecord struct {
	Kind    RecordKind
	Dish    *DishRecord
	Wine    *WineRecord
	Tier    ExtractionTier
	Partial bool
}

// Name 回傳紀錄的識別名稱
func (r ExtractedRecord) Name() string {
	switch r.Kind {
	case KindDish:
		if r.Dish != nil {
			return r.Dish.Name
		}
	case KindWine:
		if r.Wine != nil {
			return r.Wine.Name
		}
	}
	return ""
}

// InventoryItem 場館實際庫存品項
type InventoryItem struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Kind        RecordKind `json:"kind,omitempty" yaml:"kind"`
	Category    string     `json:"category,omitempty" yaml:"category"`
	StyleBucket string     `json:"style_bucket,omitempty" yaml:"style_bucket"`
	Price       *float64   `json:"price,omitempty" yaml:"price"`
	Description string     `json:"description,omitempty" yaml:"description"`
}

// Identity 庫存品項的正規化識別
func (i InventoryItem) Identity() string {
	return NormalizeName(i.Name)
}

// ResolvedEntity 擷取紀錄與庫存品項的連結
type ResolvedEntity struct {
	Name        string      `json:"name"`
	ItemID      string      `json:"item_id,omitempty"`
	SourceName  string      `json:"source_name,omitempty"`
	Category    Category    `json:"category,omitempty"`
	StyleBucket StyleBucket `json:"style_bucket,omitempty"`
	Confidence  Confidence  `json:"confidence,omitempty"`
	MatchTier   MatchTier   `json:"match_tier"`
	Price       *float64    `json:"price,omitempty"`
	Rationale   string      `json:"rationale,omitempty"`
	Sentinel    bool        `json:"sentinel"`

	// identity 為去重用的正規化名稱，未配對時為空
	identity string
}

// Resolved 是否配對到庫存品項
func (e ResolvedEntity) Resolved() bool {
	return !e.Sentinel && e.identity != ""
}

// NewSentinel 建立「無合適配對」占位實體
func NewSentinel(sourceName string) ResolvedEntity {
	return ResolvedEntity{
		Name:        SentinelName,
		SourceName:  sourceName,
		Category:    CategoryUnknown,
		StyleBucket: BucketUnclassified,
		MatchTier:   MatchSentinel,
		Sentinel:    true,
	}
}

// ParentRecord 分組的擁有者紀錄（例如一道菜）
type ParentRecord struct {
	Kind        RecordKind `json:"kind"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Course      string     `json:"course,omitempty"`
	Price       *float64   `json:"price,omitempty"`
	Partial     bool       `json:"partial,omitempty"`
}

// GroupedResult 一個擁有者紀錄與其有界的實體清單
type GroupedResult struct {
	Parent   ParentRecord     `json:"parent"`
	Entities []ResolvedEntity `json:"entities"`
}

// Window 每組實體數量的上下限
type Window struct {
	Min int
	Max int
}

// normalize 修正不合理的上下限
func (w Window) normalize() Window {
	if w.Min < 0 {
		w.Min = 0
	}
	if w.Max < w.Min {
		w.Max = w.Min
	}
	return w
}

// ErrMalformedInput 所有擷取層級都無法取得任何紀錄
var ErrMalformedInput = errors.New("malformed model output")

// MalformedInputError 帶有診斷原因的擷取失敗
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedInput.Error(), e.Reason)
}

// Unwrap 讓 errors.Is(err, ErrMalformedInput) 成立
func (e *MalformedInputError) Unwrap() error {
	return ErrMalformedInput
}
