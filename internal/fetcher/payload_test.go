package fetcher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAcceptsLegacyCountry(t *testing.T) {
	a, err := Decode(strings.NewReader(`{"model":"rtx 4080","country":"de","price_data":[{"price":999,"store":"alternate","country":"de"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "de", a.Region)
	require.Len(t, a.Observations, 1)
	assert.Equal(t, "de", a.Observations[0].Region)
	assert.NoError(t, a.Validate())
}

func TestDecodePrefersRegionOverCountry(t *testing.T) {
	a, err := Decode(strings.NewReader(`{"model":"m","region":"us","country":"ca"}`))
	require.NoError(t, err)
	assert.Equal(t, "us", a.Region)
}

func TestValidate(t *testing.T) {
	assert.True(t, errors.Is(Analysis{Region: "us"}.Validate(), ErrMissingModel))
	assert.True(t, errors.Is(Analysis{Model: "m"}.Validate(), ErrMissingRegion))
	assert.True(t, errors.Is(Analysis{Model: "  ", Region: "us"}.Validate(), ErrMissingModel))
}

func TestBestOfferSkipsMissingPrices(t *testing.T) {
	p1, p2 := 849.99, 799.99
	a := Analysis{Observations: []Observation{{Store: "a"}, {Price: &p1, Store: "b"}, {Price: &p2, Store: "c"}}}
	price, store, ok := a.BestOffer()
	require.True(t, ok)
	assert.Equal(t, 799.99, price)
	assert.Equal(t, "c", store)

	_, _, ok = Analysis{Observations: []Observation{{Store: "a"}}}.BestOffer()
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":"m","region":"us","price_trend":"stable"}`), 0o600))

	a, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "stable", a.Trend)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
