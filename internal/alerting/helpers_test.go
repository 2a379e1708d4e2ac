package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/retry"
	"price-alerts/internal/storage"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func noRetry() retry.Policy {
	return retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func instantRetry(n int) retry.Policy {
	return retry.Policy{
		MaxRetries: n,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}
}

func samplePayload() Payload {
	best := 799.99
	return Payload{
		RuleID:         "rule-1",
		OwnerID:        "user-1",
		ProductModel:   "RTX_4090",
		Region:         "us",
		Condition:      storage.ConditionPriceBelow,
		Threshold:      850,
		TriggeredValue: 799.99,
		BestPrice:      &best,
		BestStore:      "newegg",
		Trend:          "decreasing",
		TriggeredAt:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func contactsFor(c storage.Contact) StaticContacts {
	return StaticContacts{c.OwnerID: c}
}
