package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pairing-engine/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestService_Process(t *testing.T) {
	raw := pngBytes(t, 40, 20)
	encoded := base64.StdEncoding.EncodeToString(raw)
	svc := NewService(1<<20, 0)

	t.Run("data url", func(t *testing.T) {
		img, err := svc.Process(context.Background(), "data:image/png;base64,"+encoded)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(img.DataURL, "data:image/jpeg;base64,"))
		assert.Equal(t, "png", img.SourceFormat)
		assert.Equal(t, 40, img.Width)
		assert.Equal(t, 20, img.Height)
		assert.Equal(t, common.HashBytes(raw), img.Fingerprint)
	})

	t.Run("plain base64 has same fingerprint", func(t *testing.T) {
		a, err := svc.Process(context.Background(), encoded)
		require.NoError(t, err)
		b, err := svc.Process(context.Background(), "data:image/png;base64,"+encoded)
		require.NoError(t, err)
		assert.Equal(t, a.Fingerprint, b.Fingerprint)
	})

	t.Run("url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(raw)
		}))
		defer srv.Close()

		img, err := svc.Process(context.Background(), srv.URL+"/menu.png")
		require.NoError(t, err)
		assert.Equal(t, common.HashBytes(raw), img.Fingerprint)
	})

	t.Run("downscales long edge", func(t *testing.T) {
		small := NewService(1<<20, 10)
		img, err := small.Process(context.Background(), encoded)
		require.NoError(t, err)
		assert.Equal(t, 10, img.Width)
		assert.Equal(t, 5, img.Height)
	})
}

func TestService_ProcessErrors(t *testing.T) {
	raw := pngBytes(t, 8, 8)
	encoded := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		svc     *Service
		input   string
		wantErr *common.CustomError
	}{
		{"empty", NewService(1<<20, 0), "  ", common.ErrInvalidImageFormat},
		{"not base64", NewService(1<<20, 0), "data:image/png;base64,@@@", common.ErrInvalidImageFormat},
		{"missing comma", NewService(1<<20, 0), "data:image/png;base64", common.ErrInvalidImageFormat},
		{"non image data url", NewService(1<<20, 0), "data:text/plain;base64,aGk=", common.ErrInvalidImageType},
		{"not an image", NewService(1<<20, 0), base64.StdEncoding.EncodeToString([]byte("hello")), common.ErrInvalidImageFormat},
		{"too large", NewService(16, 0), encoded, common.ErrInvalidImageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Process(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), err.Error())
		})
	}

	t.Run("download failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewService(1<<20, 0).Process(context.Background(), srv.URL)
		assert.True(t, errors.Is(err, common.ErrInvalidRequest))
	})
}

func TestService_Validate(t *testing.T) {
	svc := NewService(1<<20, 0)
	assert.NoError(t, svc.Validate(context.Background(), base64.StdEncoding.EncodeToString(pngBytes(t, 4, 4))))
	assert.Error(t, svc.Validate(context.Background(), "data:image/png;base64,AAAA"))
}
