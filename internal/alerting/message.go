package alerting

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-alerts/internal/storage"
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func formatPercent(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}

// headline is the one-sentence summary shared by every channel.
func headline(p Payload) string {
	switch p.Condition {
	case storage.ConditionPriceDrop:
		return fmt.Sprintf("The price has dropped %s%% (your threshold: %s%%).",
			formatPercent(p.TriggeredValue), formatPercent(p.Threshold))
	case storage.ConditionPriceBelow:
		return fmt.Sprintf("The price is now below $%s, lowest offer $%s.",
			formatAmount(p.Threshold), formatAmount(p.TriggeredValue))
	default:
		return fmt.Sprintf("Condition %s met with value %s.", p.Condition, formatAmount(p.TriggeredValue))
	}
}

func bestPriceText(p Payload) string {
	if p.BestPrice == nil {
		return "n/a"
	}
	if p.BestStore == "" {
		return "$" + formatAmount(*p.BestPrice)
	}
	return fmt.Sprintf("$%s at %s", formatAmount(*p.BestPrice), p.BestStore)
}

func trendText(p Payload) string {
	if p.Trend == "" {
		return "unknown"
	}
	return p.Trend
}

// renderTelegram builds the Markdown chat message.
func renderTelegram(p Payload) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔔 *Price Alert for %s*\n\n", markdownEscaper.Replace(p.ProductModel)))
	b.WriteString("Good news! " + headline(p) + "\n")
	if p.BestPrice != nil {
		b.WriteString(fmt.Sprintf("Current best price: *$%s*", formatAmount(*p.BestPrice)))
		if p.BestStore != "" {
			b.WriteString(" at " + markdownEscaper.Replace(p.BestStore))
		}
		b.WriteString("\n")
	}
	b.WriteString("Price trend: " + markdownEscaper.Replace(trendText(p)))
	return b.String()
}

func emailSubject(p Payload) string {
	return "Price Alert: " + p.ProductModel
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <h2>Price Alert for {{.Model}}</h2>
  <p>Good news! {{.Headline}}</p>
  <table cellpadding="4">
    <tr><td><strong>Best price</strong></td><td>{{.Best}}</td></tr>
    <tr><td><strong>Price trend</strong></td><td>{{.Trend}}</td></tr>
    <tr><td><strong>Region</strong></td><td>{{.Region}}</td></tr>
    <tr><td><strong>Triggered at</strong></td><td>{{.At}}</td></tr>
  </table>
  <p style="color:#888;font-size:12px;">Rule {{.RuleID}}</p>
</body>
</html>
`))

func renderEmailHTML(p Payload) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]string{
		"Model":    p.ProductModel,
		"Headline": headline(p),
		"Best":     bestPriceText(p),
		"Trend":    trendText(p),
		"Region":   strings.ToUpper(p.Region),
		"At":       p.TriggeredAt.Format(time.RFC1123),
		"RuleID":   p.RuleID,
	})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

// webhookBody is the JSON document POSTed to owner webhooks.
type webhookBody struct {
	EventType      string   `json:"event_type"`
	RuleID         string   `json:"rule_id"`
	UserID         string   `json:"user_id"`
	ProductModel   string   `json:"product_model"`
	Region         string   `json:"region"`
	ConditionType  string   `json:"condition_type"`
	Threshold      float64  `json:"threshold"`
	TriggeredValue float64  `json:"triggered_value"`
	BestPrice      *float64 `json:"best_price"`
	BestStore      string   `json:"best_store"`
	PriceTrend     string   `json:"price_trend"`
	Timestamp      string   `json:"timestamp"`
}

func newWebhookBody(p Payload) webhookBody {
	return webhookBody{
		EventType:      "price_alert",
		RuleID:         p.RuleID,
		UserID:         p.OwnerID,
		ProductModel:   p.ProductModel,
		Region:         p.Region,
		ConditionType:  string(p.Condition),
		Threshold:      p.Threshold,
		TriggeredValue: p.TriggeredValue,
		BestPrice:      p.BestPrice,
		BestStore:      p.BestStore,
		PriceTrend:     p.Trend,
		Timestamp:      p.TriggeredAt.UTC().Format(time.RFC3339),
	}
}
