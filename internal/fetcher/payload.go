package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

var (
	// ErrMissingModel is returned when the analysis carries no product model.
	ErrMissingModel = errors.New("analysis: model is required")
	// ErrMissingRegion is returned when the analysis carries no region.
	ErrMissingRegion = errors.New("analysis: region is required")
)

// Observation is one store's price point inside an analysis snapshot.
type Observation struct {
	Price         *float64 `json:"price,omitempty"`
	Store         string   `json:"store"`
	Region        string   `json:"region,omitempty"`
	PreviousPrice *float64 `json:"previous_price,omitempty"`
	ChangePercent *float64 `json:"price_change_percent,omitempty"`
}

// Analysis is the read-only market snapshot the engine evaluates rules against.
type Analysis struct {
	Model        string        `json:"model"`
	Region       string        `json:"region"`
	Observations []Observation `json:"price_data"`
	LowestPrice  *float64      `json:"lowest_price,omitempty"`
	Trend        string        `json:"price_trend,omitempty"`
	CollectedAt  time.Time     `json:"collected_at,omitempty"`
}

// UnmarshalJSON accepts the legacy "country" key for region on both the snapshot and its observations.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	type plain Analysis
	var raw struct {
		plain
		Country      string `json:"country"`
		Observations []struct {
			Observation
			Country string `json:"country"`
		} `json:"price_data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = Analysis(raw.plain)
	if a.Region == "" {
		a.Region = raw.Country
	}
	a.Observations = make([]Observation, 0, len(raw.Observations))
	for _, obs := range raw.Observations {
		o := obs.Observation
		if o.Region == "" {
			o.Region = obs.Country
		}
		a.Observations = append(a.Observations, o)
	}
	return nil
}

// Validate checks the context fields every run requires.
func (a Analysis) Validate() error {
	if strings.TrimSpace(a.Model) == "" {
		return ErrMissingModel
	}
	if strings.TrimSpace(a.Region) == "" {
		return ErrMissingRegion
	}
	return nil
}

// BestOffer returns the lowest priced observation. ok is false when no observation has a price.
func (a Analysis) BestOffer() (price float64, store string, ok bool) {
	for _, obs := range a.Observations {
		if obs.Price == nil {
			continue
		}
		if !ok || *obs.Price < price {
			price, store, ok = *obs.Price, obs.Store, true
		}
	}
	return price, store, ok
}

// Decode parses an analysis document.
func Decode(r io.Reader) (Analysis, error) {
	var a Analysis
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return a, nil
}

// LoadFile reads an analysis document from disk.
func LoadFile(path string) (Analysis, error) {
	file, err := os.Open(path)
	if err != nil {
		return Analysis{}, fmt.Errorf("open analysis file: %w", err)
	}
	defer file.Close()
	return Decode(file)
}
