package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/jsonc"
)

// Defaults applied when the upstream payload leaves a field out.
const (
	UnknownField   = "N/A"
	UnknownArticle = "Article inconnu"
)

// --- Order Structures ---

type Order struct {
	ID           string     `json:"id"`
	DeliveryType string     `json:"delivery_type"`
	Items        []LineItem `json:"items"`
	// CreatedAt is printed as the order date; zero means "now" at render time.
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type LineItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Total is quantity times unit price, unrounded.
func (li LineItem) Total() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Total sums the line totals. Rounding is left to the caller.
func (o Order) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Total())
	}
	return sum
}

// ParseOrderFile decodes a hand-written order file. Comments and trailing
// commas are allowed.
func ParseOrderFile(data []byte) (Order, error) {
	var order Order
	if err := json.Unmarshal(jsonc.ToJSON(data), &order); err != nil {
		return Order{}, fmt.Errorf("parsing order: %w", err)
	}
	return order, nil
}

type orderWire struct {
	ID              json.RawMessage `json:"id"`
	DeliveryType    json.RawMessage `json:"delivery_type"`
	Items           json.RawMessage `json:"items"`
	CartBackupItems json.RawMessage `json:"cartBackupItems"`
	CreatedAt       json.RawMessage `json:"created_at"`
	CreatedAtCamel  json.RawMessage `json:"createdAt"`
}

// UnmarshalJSON decodes an order leniently. Only a body that is not a JSON
// object is an error; every missing or mistyped field falls back to its
// default.
func (o *Order) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("order must be a JSON object")
	}
	var w orderWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return fmt.Errorf("decode order: %w", err)
	}

	*o = Order{
		ID:           orDefault(scalarString(w.ID), UnknownField),
		DeliveryType: orDefault(scalarString(w.DeliveryType), UnknownField),
	}

	raw := rawArray(w.Items)
	if len(raw) == 0 {
		raw = rawArray(w.CartBackupItems)
	}
	o.Items = make([]LineItem, 0, len(raw))
	for _, r := range raw {
		o.Items = append(o.Items, decodeLineItem(r))
	}

	for _, ts := range []json.RawMessage{w.CreatedAt, w.CreatedAtCamel} {
		if t, err := time.Parse(time.RFC3339, scalarString(ts)); err == nil {
			o.CreatedAt = t
			break
		}
	}
	return nil
}

type lineItemWire struct {
	Name     json.RawMessage `json:"name"`
	Quantity json.RawMessage `json:"quantity"`
	Price    json.RawMessage `json:"price"`
}

func decodeLineItem(raw json.RawMessage) LineItem {
	li := LineItem{Name: UnknownArticle, Quantity: 1, Price: decimal.Zero}
	var w lineItemWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return li
	}
	li.Name = orDefault(scalarString(w.Name), UnknownArticle)
	if q, ok := parseQuantity(w.Quantity); ok {
		li.Quantity = q
	}
	if p, ok := parsePrice(w.Price); ok {
		li.Price = p
	}
	return li
}

// Price bounds. Anything outside them is treated as unparseable: rendering a
// decimal costs time and memory proportional to its exponent.
const (
	maxPriceText     = 32
	maxPriceExponent = 12
	maxPriceBits     = 53
	priceScale       = 4
)

func parsePrice(raw json.RawMessage) (decimal.Decimal, bool) {
	s := scalarString(raw)
	if s == "" || len(s) > maxPriceText {
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if exp := p.Exponent(); exp < -maxPriceExponent || exp > maxPriceExponent {
		return decimal.Zero, false
	}
	if p.Coefficient().BitLen() > maxPriceBits {
		return decimal.Zero, false
	}
	return p.Round(priceScale), true
}

func parseQuantity(raw json.RawMessage) (int, bool) {
	s := scalarString(raw)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < 0 {
		return 0, true
	}
	if f > math.MaxInt32 {
		return math.MaxInt32, true
	}
	return int(f), true
}

// scalarString returns the text of a JSON string, number or boolean, and ""
// for anything else.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}

func rawArray(raw json.RawMessage) []json.RawMessage {
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
