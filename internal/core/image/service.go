package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	_ "image/gif" // 支援 GIF
	_ "image/png" // 支援 PNG

	"pairing-engine/internal/pkg/common"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 支援 WebP
)

// DefaultMaxDimension 長邊超過此值時等比縮小
const DefaultMaxDimension = 1200

// Image 正規化後的圖片
type Image struct {
	// DataURL JPEG data URL，可直接送進模型
	DataURL string

	// Fingerprint 原始位元組的 SHA-256，作為快取鍵的一部分
	Fingerprint string

	SourceFormat string
	Width        int
	Height       int
}

// Service 圖片處理服務
type Service struct {
	maxSizeBytes int64
	maxDimension int
	httpClient   *http.Client
}

// NewService 創建新的圖片處理服務
func NewService(maxSizeBytes int64, maxDimension int) *Service {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Service{
		maxSizeBytes: maxSizeBytes,
		maxDimension: maxDimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Process 接受 URL、data URL 或純 base64，回傳 JPEG 與指紋
func (s *Service) Process(ctx context.Context, imageData string) (*Image, error) {
	raw, err := s.load(ctx, strings.TrimSpace(imageData))
	if err != nil {
		common.LogImageProcessing("warn", "load failed", zap.Error(err))
		return nil, err
	}

	img, format, err := s.decode(raw)
	if err != nil {
		common.LogImageProcessing("warn", "decode failed", zap.Error(err))
		return nil, err
	}

	img = s.fit(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, common.ErrInternalError.Wrap(fmt.Errorf("failed to encode image as JPEG: %w", err))
	}

	bounds := img.Bounds()
	out := &Image{
		DataURL:      "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Fingerprint:  common.HashBytes(raw),
		SourceFormat: format,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
	}

	common.LogImageProcessing("debug", "image normalized",
		zap.String("format", format),
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
		zap.Int("bytes", len(raw)),
	)
	return out, nil
}

// Validate 只檢查圖片可解碼且格式受支援
func (s *Service) Validate(ctx context.Context, imageData string) error {
	raw, err := s.load(ctx, strings.TrimSpace(imageData))
	if err != nil {
		return err
	}
	_, _, err = s.decode(raw)
	return err
}

// load 取得原始位元組
func (s *Service) load(ctx context.Context, imageData string) ([]byte, error) {
	if imageData == "" {
		return nil, common.ErrInvalidImageFormat.Wrap(fmt.Errorf("empty image data"))
	}

	if strings.HasPrefix(imageData, "http://") || strings.HasPrefix(imageData, "https://") {
		return s.download(ctx, imageData)
	}

	payload := imageData
	if strings.HasPrefix(imageData, "data:") {
		if !strings.HasPrefix(imageData, "data:image/") {
			return nil, common.ErrInvalidImageType.Wrap(fmt.Errorf("data URL is not an image"))
		}
		_, after, ok := strings.Cut(imageData, ",")
		if !ok {
			return nil, common.ErrInvalidImageFormat.Wrap(fmt.Errorf("invalid base64 data format"))
		}
		payload = after
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, common.ErrInvalidImageFormat.Wrap(fmt.Errorf("failed to decode base64 data: %w", err))
	}
	if err := s.checkSize(len(decoded)); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.ErrInvalidImageFormat.Wrap(fmt.Errorf("invalid image url: %w", err))
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrap(fmt.Errorf("failed to download image: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, common.ErrInvalidRequest.Wrap(fmt.Errorf("failed to download image: status code %d", resp.StatusCode))
	}

	var body io.Reader = resp.Body
	if s.maxSizeBytes > 0 {
		// 多讀一個位元組以判斷是否超限
		body = io.LimitReader(resp.Body, s.maxSizeBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, common.ErrInvalidRequest.Wrap(fmt.Errorf("failed to read image data: %w", err))
	}
	if err := s.checkSize(len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Service) checkSize(n int) error {
	if s.maxSizeBytes > 0 && int64(n) > s.maxSizeBytes {
		return common.ErrInvalidImageSize.Wrap(fmt.Errorf("image size exceeds maximum limit of %d bytes", s.maxSizeBytes))
	}
	return nil
}

func (s *Service) decode(raw []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", common.ErrInvalidImageFormat.Wrap(fmt.Errorf("failed to decode image: %w", err))
	}
	if !isSupportedFormat(format) {
		return nil, "", common.ErrInvalidImageType.Wrap(fmt.Errorf("unsupported image format: %s", format))
	}
	return img, format, nil
}

// fit 長邊超過上限時等比縮小
func (s *Service) fit(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= s.maxDimension {
		return img
	}

	nw := w * s.maxDimension / longest
	nh := h * s.maxDimension / longest
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// isSupportedFormat 檢查圖片格式是否支援
func isSupportedFormat(format string) bool {
	supportedFormats := map[string]bool{
		"jpeg": true,
		"jpg":  true,
		"png":  true,
		"gif":  true,
		"webp": true,
	}
	return supportedFormats[format]
}
