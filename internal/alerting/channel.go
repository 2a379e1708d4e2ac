package alerting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"price-alerts/internal/fetcher"
	"price-alerts/internal/storage"
)

// Channel names understood by the registry.
const (
	ChannelEmail    = "email"
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
)

// Category classifies why a delivery failed.
type Category string

const (
	CategoryAuth         Category = "auth"
	CategoryTransport    Category = "transport"
	CategoryTimeout      Category = "timeout"
	CategoryConnectivity Category = "connectivity"
	CategoryAPI          Category = "api"
	CategoryRecipient    Category = "recipient"
	CategoryUnsupported  Category = "unsupported"
	CategoryUnexpected   Category = "unexpected"
)

// Payload is the channel-neutral description of a triggered alert.
type Payload struct {
	RuleID         string
	OwnerID        string
	ProductModel   string
	Region         string
	Condition      storage.ConditionKind
	Threshold      float64
	TriggeredValue float64
	BestPrice      *float64
	BestStore      string
	Trend          string
	TriggeredAt    time.Time
}

// NewPayload derives the payload for a triggered rule from the analysis snapshot.
func NewPayload(rule storage.AlertRule, analysis fetcher.Analysis, value float64, at time.Time) Payload {
	p := Payload{
		RuleID:         rule.ID,
		OwnerID:        rule.OwnerID,
		ProductModel:   rule.ProductModel,
		Region:         rule.Region,
		Condition:      rule.Condition,
		Threshold:      rule.Threshold,
		TriggeredValue: value,
		Trend:          analysis.Trend,
		TriggeredAt:    at.UTC(),
	}
	if p.ProductModel == "" {
		p.ProductModel = analysis.Model
	}
	if p.Region == "" {
		p.Region = analysis.Region
	}
	if price, store, ok := analysis.BestOffer(); ok {
		p.BestPrice = &price
		p.BestStore = store
	} else if analysis.LowestPrice != nil {
		price := *analysis.LowestPrice
		p.BestPrice = &price
	}
	return p
}

// Result is the outcome of one delivery attempt on one channel.
type Result struct {
	Channel    string
	Success    bool
	Category   Category
	StatusCode int
	Detail     string
	Attempts   int
}

// Describe renders the failure for logs and run reports.
func (r Result) Describe() string {
	if r.Success {
		return "ok"
	}
	if r.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", r.Category, r.StatusCode, r.Detail)
	}
	return fmt.Sprintf("%s: %s", r.Category, r.Detail)
}

func success(channel string, attempts int) Result {
	return Result{Channel: channel, Success: true, Attempts: attempts}
}

func failure(channel string, category Category, format string, args ...any) Result {
	return Result{Channel: channel, Category: category, Detail: fmt.Sprintf(format, args...)}
}

// Channel delivers payloads over one transport. Send never panics on delivery
// problems; every fault is reported through the Result.
type Channel interface {
	Name() string
	Send(ctx context.Context, p Payload) Result
}

// Registry maps channel names to their clients.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry builds a registry from the given channels.
func NewRegistry(channels ...Channel) (*Registry, error) {
	r := &Registry{channels: make(map[string]Channel, len(channels))}
	for _, c := range channels {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a channel. Names are unique.
func (r *Registry) Register(c Channel) error {
	if c == nil {
		return fmt.Errorf("register nil channel")
	}
	name := normalizeName(c.Name())
	if name == "" {
		return fmt.Errorf("channel name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	r.channels[name] = c
	return nil
}

// Lookup returns the channel registered under name.
func (r *Registry) Lookup(name string) (Channel, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[normalizeName(name)]
	return c, ok
}

// Names lists registered channels alphabetically.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
