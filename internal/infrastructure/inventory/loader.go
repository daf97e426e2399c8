package inventory

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pairing-engine/internal/core/reconcile"
	"pairing-engine/internal/pkg/common"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File 庫存檔結構；也接受頂層直接是清單
type File struct {
	Venue string                    `yaml:"venue" json:"venue"`
	Items []reconcile.InventoryItem `yaml:"items" json:"items"`
}

// Load 依副檔名讀取 YAML 或 JSON 庫存檔
func Load(path string) ([]reconcile.InventoryItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	items, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}

	common.LogInfo("庫存已載入",
		zap.String("path", path),
		zap.Int("items", len(items)),
	)
	return items, nil
}

// Parse 解析庫存內容，format 為 yaml、yml 或 json
func Parse(data []byte, format string) ([]reconcile.InventoryItem, error) {
	var (
		items []reconcile.InventoryItem
		err   error
	)
	switch format {
	case "yaml", "yml":
		items, err = parseYAML(data)
	case "json":
		items, err = parseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported inventory format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return Normalize(items)
}

func parseYAML(data []byte) ([]reconcile.InventoryItem, error) {
	var list []reconcile.InventoryItem
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	return file.Items, nil
}

func parseJSON(data []byte) ([]reconcile.InventoryItem, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var list []reconcile.InventoryItem
		if err := common.ParseJSONBytes(trimmed, &list); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		return list, nil
	}
	var file File
	if err := common.ParseJSONBytes(trimmed, &file); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return file.Items, nil
}

// Normalize 補上缺少的 ID 與種類，並拒絕沒有名稱或重複 ID 的品項
func Normalize(items []reconcile.InventoryItem) ([]reconcile.InventoryItem, error) {
	out := make([]reconcile.InventoryItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" {
			return nil, common.NewValidationError(fmt.Sprintf("inventory item %d has no name", i))
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("item-%d", i+1)
		}
		if seen[item.ID] {
			return nil, common.NewValidationError(fmt.Sprintf("duplicate inventory id %q", item.ID))
		}
		seen[item.ID] = true
		if item.Kind == "" {
			item.Kind = reconcile.KindWine
		}
		out = append(out, item)
	}
	return out, nil
}
