package receipt

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/escpos"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

func textOptions() Options {
	return Options{Mode: escpos.ModeText, Encoding: escpos.EncodingUTF8, Now: fixedNow}
}

func TestRenderTestOrder(t *testing.T) {
	t.Parallel()

	out := string(Render(model.TestOrder(), DefaultLayout(), textOptions()))

	assert.Contains(t, out, "SOY SAVOR\n16 cours Carnot\n13160 Chateaurenard\nTel: 04 90 24 00 00\n")
	assert.Contains(t, out, "COMMANDE #TEST-001\nDate: 2024-01-01 12:00:00\nType: LIVRAISON\n")
	assert.Contains(t, out, "Poké Créa\nQte: 2 x 12.50EUR = 25.00EUR\n"+strings.Repeat("-", 32)+"\n")
	assert.Contains(t, out, "Sushi Créa\nQte: 1 x 15.00EUR = 15.00EUR\n")
	assert.Contains(t, out, "TOTAL: 40.00EUR\n")
	assert.True(t, strings.HasSuffix(out, "Merci pour votre commande !\nBon appetit !\n\n\n\n"))
	assert.NotContains(t, out, "\x1b")
	assert.NotContains(t, out, "\x1d")
}

func TestRenderItemPairsInOrder(t *testing.T) {
	t.Parallel()

	order := model.Order{ID: "X", Items: []model.LineItem{
		{Name: "first", Quantity: 1, Price: decimal.RequireFromString("1.005")},
		{Name: "second", Quantity: 3, Price: decimal.RequireFromString("0.10")},
		{Name: "third", Quantity: 0, Price: decimal.RequireFromString("9.99")},
	}}
	out := string(Render(order, DefaultLayout(), textOptions()))

	assert.Equal(t, len(order.Items), strings.Count(out, "\nQte: "))
	first := strings.Index(out, "first\n")
	second := strings.Index(out, "second\n")
	third := strings.Index(out, "third\n")
	require.True(t, first > 0 && second > first && third > second, out)

	// 1.005 + 0.30 + 0 rounds once at the end.
	assert.Contains(t, out, "TOTAL: 1.31EUR\n")
	assert.Contains(t, out, "Qte: 0 x 9.99EUR = 0.00EUR\n")
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	opts := Options{Mode: escpos.ModeESCPOS, Encoding: escpos.EncodingCP858, Now: fixedNow}
	a := Render(model.TestOrder(), DefaultLayout(), opts)
	b := Render(model.TestOrder(), DefaultLayout(), opts)
	assert.Equal(t, a, b)
}

func TestRenderESCPOSFraming(t *testing.T) {
	t.Parallel()

	out := Render(model.DebugOrder(), DefaultLayout(), Options{Now: fixedNow})

	assert.True(t, bytes.HasPrefix(out, []byte{escpos.ESC, '@', escpos.ESC, 'a', 1}))
	assert.True(t, bytes.HasSuffix(out, []byte("\n\n\n\x1dV\x00")))
	assert.Contains(t, string(out), "\x1b!\x08TOTAL: 12.00EUR\n\x1b!\x00")
	assert.Contains(t, string(out), "\x1b!\x10COMMANDE #DEBUG\n")
}

func TestRenderDefaults(t *testing.T) {
	t.Parallel()

	var order model.Order
	require.NoError(t, json.Unmarshal([]byte(`{"items":[{"price":"2"}]}`), &order))
	out := string(Render(order, Layout{}, textOptions()))

	assert.Contains(t, out, "COMMANDE #N/A\n")
	assert.Contains(t, out, "Type: N/A\n")
	assert.Contains(t, out, "Article inconnu\nQte: 1 x 2.00 = 2.00\n")

	// A zero-value order still renders.
	out = string(Render(model.Order{Items: []model.LineItem{{}}}, DefaultLayout(), textOptions()))
	assert.Contains(t, out, "Article inconnu\nQte: 0 x 0.00EUR = 0.00EUR\n")
	assert.Contains(t, out, "TOTAL: 0.00EUR\n")
}

func TestRenderExtremePriceExponents(t *testing.T) {
	t.Parallel()

	for _, price := range []string{`"1e-999999999"`, `"1e999999999"`, `"1e-12800000"`} {
		var order model.Order
		require.NoError(t, json.Unmarshal([]byte(`{"id":"A1","items":[{"name":"X","quantity":1,"price":`+price+`}]}`), &order))

		start := time.Now()
		out := Render(order, DefaultLayout(), textOptions())
		assert.Less(t, time.Since(start), time.Second, price)
		assert.Less(t, len(out), 4096, price)
		assert.Contains(t, string(out), "Qte: 1 x 0.00EUR = 0.00EUR\n", price)
		assert.Contains(t, string(out), "TOTAL: 0.00EUR\n", price)
	}
}

func TestRenderUsesOrderTimestamp(t *testing.T) {
	t.Parallel()

	order := model.TestOrder()
	order.CreatedAt = time.Date(2025, 6, 30, 19, 45, 3, 0, time.UTC)
	out := string(Render(order, DefaultLayout(), textOptions()))
	assert.Contains(t, out, "Date: 2025-06-30 19:45:03\n")
}

func TestLayoutFromConfig(t *testing.T) {
	t.Parallel()

	l := LayoutFromConfig(model.BusinessConfig{Name: "CHEZ NOUS", Width: 48})
	assert.Equal(t, "CHEZ NOUS", l.Name)
	assert.Equal(t, 48, l.Width)
	assert.Equal(t, DefaultLayout().Address, l.Address)
	assert.Equal(t, "EUR", l.Currency)

	r := NewRenderer(l, textOptions())
	assert.Contains(t, string(r.Render(model.TestOrder())), strings.Repeat("=", 48)+"\n")
}
