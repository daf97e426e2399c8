package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	var v map[string]interface{}
	require.NoError(t, ParseJSON(`{"price": 48.5}`, &v))
	assert.Equal(t, json.Number("48.5"), v["price"])

	assert.Error(t, ParseJSON(`{"a": 1} {"b": 2}`, &v), "trailing value is rejected")
	assert.Error(t, ParseJSONBytes([]byte(`{"a":`), &v))
}

func TestIsValidJSON(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{"a": 1}`, true},
		{`[1, 2]`, true},
		{`{"a": 1},`, false},
		{`{a: 1}`, false},
		{``, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidJSON(tt.in))
		})
	}
}

func TestQuoteJSONKeys(t *testing.T) {
	assert.Equal(t, `{"name": "x", "price": 3}`, QuoteJSONKeys(`{name: "x", price: 3}`))
	assert.Equal(t, `[{"wine": "y"}]`, QuoteJSONKeys(`[{wine: "y"}]`))
}

func TestDecodeJSONStream(t *testing.T) {
	values, err := DecodeJSONStream(`{"a": 1} [2] "x"`)
	require.NoError(t, err)
	assert.Len(t, values, 3)

	values, err = DecodeJSONStream(`{"a": 1} {"b":`)
	assert.Error(t, err)
	assert.Len(t, values, 1, "values decoded before the error are kept")
}

func TestCustomErrorIs(t *testing.T) {
	err := ErrAIServiceError.Wrap(assert.AnError)
	assert.ErrorIs(t, err, ErrAIServiceError)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, assert.AnError.Error(), err.Error())
	assert.Equal(t, ErrInvalidRequest.Message, ErrInvalidRequest.Error())
}
