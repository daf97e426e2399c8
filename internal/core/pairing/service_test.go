package pairing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"pairing-engine/internal/core/ai/cache"
	"pairing-engine/internal/core/ai/provider/providertest"
	aiservice "pairing-engine/internal/core/ai/service"
	imagesvc "pairing-engine/internal/core/image"
	"pairing-engine/internal/core/reconcile"
	"pairing-engine/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const menuAnswer = `{"dishes": [
  {"name": "Steak Frites", "recommendations": [
    {"name": "Chateu Margeaux", "category": "red", "rationale": "tannin and fat"},
    {"name": "Opus One", "category": "red"}
  ]},
  {"name": "Oysters", "recommendations": [{"name": "Veuve Clicquot Brut"}]}
]}`

func price(v float64) *float64 { return &v }

func venueInventory() []reconcile.InventoryItem {
	return []reconcile.InventoryItem{
		{ID: "w1", Name: "Château Margaux", Kind: reconcile.KindWine, Category: "red", Price: price(950)},
		{ID: "w3", Name: "Veuve Clicquot Brut", Kind: reconcile.KindWine, Category: "sparkling"},
		{ID: "w5", Name: "Opus One", Kind: reconcile.KindWine, Category: "red"},
		{ID: "d1", Name: "Steak Frites", Kind: reconcile.KindDish},
	}
}

func menuImage(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 6, 6))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestService(t *testing.T, fake *providertest.Fake) *Service {
	t.Helper()
	gateway, err := aiservice.NewService(fake, imagesvc.NewService(1<<20, 0), aiservice.Options{MaxImages: 4})
	require.NoError(t, err)

	responses := cache.New[*reconcile.Result](cache.Options{Name: "pairing-test", Capacity: 8, TTL: time.Hour})
	t.Cleanup(func() { _ = responses.Close() })

	opts := reconcile.DefaultOptions()
	opts.Window = reconcile.Window{Min: 2, Max: 2}
	return NewService(gateway, reconcile.NewPipeline(opts, responses))
}

func TestService_Pair(t *testing.T) {
	fake := providertest.NewFake(menuAnswer)
	svc := newTestService(t, fake)
	req := Request{Images: []string{menuImage(t)}, Inventory: venueInventory()}

	res, err := svc.Pair(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.NotEmpty(t, res.CorrelationID)
	require.Len(t, res.Groups, 2)

	steak := res.Groups[0]
	assert.Equal(t, "Steak Frites", steak.Parent.Name)
	require.Len(t, steak.Entities, 2)
	assert.Equal(t, "Château Margaux", steak.Entities[0].Name)
	assert.Equal(t, reconcile.ConfidenceMedium, steak.Entities[0].Confidence)
	assert.Equal(t, "Opus One", steak.Entities[1].Name)

	oysters := res.Groups[1]
	require.Len(t, oysters.Entities, 2)
	assert.Equal(t, "Veuve Clicquot Brut", oysters.Entities[0].Name)
	assert.True(t, oysters.Entities[1].Sentinel)

	prompt := fake.LastRequest().Messages[1]
	assert.Contains(t, prompt.Content, "- Château Margaux (red) 950.00")
	assert.NotContains(t, prompt.Content, "- Steak Frites")
	require.Len(t, prompt.Images, 1)
	assert.True(t, strings.HasPrefix(prompt.Images[0], "data:image/jpeg;base64,"))

	t.Run("same request hits cache without model call", func(t *testing.T) {
		again, err := svc.Pair(context.Background(), Request{
			Images:        []string{"data:image/png;base64," + req.Images[0]},
			Inventory:     venueInventory(),
			CorrelationID: "second",
		})
		require.NoError(t, err)
		assert.True(t, again.CacheHit)
		assert.Equal(t, "second", again.CorrelationID)
		assert.Equal(t, res.Groups, again.Groups)
		assert.Equal(t, 1, fake.Calls())
	})

	t.Run("changed inventory misses cache", func(t *testing.T) {
		inv := append(venueInventory(), reconcile.InventoryItem{ID: "w9", Name: "Sancerre", Category: "white"})
		_, err := svc.Pair(context.Background(), Request{Images: req.Images, Inventory: inv})
		require.NoError(t, err)
		assert.Equal(t, 2, fake.Calls())
	})
}

func TestService_PairMenuTextOnly(t *testing.T) {
	fake := providertest.NewFake(`{"wines": [{"name": "opus one"}]}`)
	svc := newTestService(t, fake)

	res, err := svc.Pair(context.Background(), Request{
		MenuText:  "Opus One 2018\nSancerre",
		Shape:     reconcile.ShapeWineList,
		Inventory: venueInventory(),
	})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, reconcile.KindList, res.Groups[0].Parent.Kind)
	assert.Equal(t, "Opus One", res.Groups[0].Entities[0].Name)
	assert.Contains(t, fake.LastRequest().Messages[1].Content, "Menu text:\nOpus One 2018")
	assert.Empty(t, fake.LastRequest().Messages[1].Images)
}

func TestService_PairErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"no input", Request{Inventory: venueInventory()}, common.ErrInvalidRequest},
		{"empty inventory", Request{MenuText: "steak"}, common.ErrInventoryEmpty},
		{"bad shape", Request{MenuText: "steak", Shape: "cocktails", Inventory: venueInventory()}, common.ErrUnsupportedShape},
		{"bad image", Request{Images: []string{"!!"}, Inventory: venueInventory()}, common.ErrInvalidImageFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := providertest.NewFake(menuAnswer)
			_, err := newTestService(t, fake).Pair(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), err.Error())
			assert.Equal(t, 0, fake.Calls())
		})
	}

	t.Run("model failure is not cached", func(t *testing.T) {
		fake := providertest.NewFake()
		fake.Err = errors.New("upstream down")
		svc := newTestService(t, fake)
		req := Request{MenuText: "steak", Inventory: venueInventory()}

		for i := 0; i < 2; i++ {
			_, err := svc.Pair(context.Background(), req)
			assert.True(t, errors.Is(err, common.ErrAIServiceError))
		}
		assert.Equal(t, 2, fake.Calls())
	})

	t.Run("malformed answer", func(t *testing.T) {
		fake := providertest.NewFake("I cannot help with that.")
		res, err := newTestService(t, fake).Pair(context.Background(), Request{MenuText: "steak", Inventory: venueInventory()})
		require.Error(t, err)
		assert.True(t, errors.Is(err, reconcile.ErrMalformedInput))
		require.NotNil(t, res)
		assert.Empty(t, res.Groups)
	})
}

func TestKeyBasis(t *testing.T) {
	a := KeyBasis([]string{"f1", "f2"}, "Steak  Frites\nOysters")
	b := KeyBasis([]string{"f2", "f1"}, "steak frites oysters")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, KeyBasis([]string{"f1"}, "steak frites oysters"))
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(reconcile.ShapeMenu, "", venueInventory(), reconcile.Window{Min: 1, Max: 3})
	assert.Contains(t, p, "between 1 and 3 wines per dish")
	assert.Contains(t, p, reconcile.SentinelName)
	assert.NotContains(t, p, "Menu text:")

	p = BuildPrompt(reconcile.ShapeWineList, "list", nil, reconcile.Window{Min: 2, Max: 2})
	assert.Contains(t, p, `{"wines"`)
	assert.Contains(t, p, "Menu text:\nlist")
}
