// Package receipt turns an order into the byte stream a receipt printer
// prints. Rendering is a pure function of the order, the layout and the
// clock; it never fails.
package receipt

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/escpos"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
)

const DateLayout = "2006-01-02 15:04:05"

// Layout holds the fixed text printed around every order.
type Layout struct {
	Name     string
	Address  []string
	Phone    string
	Footer   []string
	Currency string
	Width    int
}

func DefaultLayout() Layout {
	return Layout{
		Name:     "SOY SAVOR",
		Address:  []string{"16 cours Carnot", "13160 Chateaurenard"},
		Phone:    "04 90 24 00 00",
		Footer:   []string{"Merci pour votre commande !", "Bon appetit !"},
		Currency: "EUR",
		Width:    32,
	}
}

// LayoutFromConfig fills the blanks of b with the defaults.
func LayoutFromConfig(b model.BusinessConfig) Layout {
	l := DefaultLayout()
	if b.Name != "" {
		l.Name = b.Name
	}
	if len(b.Address) > 0 {
		l.Address = b.Address
	}
	if b.Phone != "" {
		l.Phone = b.Phone
	}
	if len(b.Footer) > 0 {
		l.Footer = b.Footer
	}
	if b.Currency != "" {
		l.Currency = b.Currency
	}
	if b.Width > 0 {
		l.Width = b.Width
	}
	return l
}

type Options struct {
	Mode     escpos.Mode
	Encoding escpos.Encoding
	// Now supplies the timestamp for orders without one. Defaults to time.Now.
	Now func() time.Time
}

// Renderer binds a layout and options so callers only pass orders.
type Renderer struct {
	Layout  Layout
	Options Options
}

func NewRenderer(layout Layout, opts Options) *Renderer {
	return &Renderer{Layout: layout, Options: opts}
}

func (r *Renderer) Render(order model.Order) []byte {
	return Render(order, r.Layout, r.Options)
}

// Render produces the receipt for order.
func Render(order model.Order, layout Layout, opts Options) []byte {
	if layout.Width <= 0 {
		layout.Width = DefaultLayout().Width
	}
	mode := opts.Mode
	if mode == "" {
		mode = escpos.ModeESCPOS
	}
	charset := opts.Encoding
	if charset == "" {
		charset = escpos.EncodingUTF8
	}
	ts := order.CreatedAt
	if ts.IsZero() {
		now := opts.Now
		if now == nil {
			now = time.Now
		}
		ts = now()
	}

	d := escpos.New(mode, charset)
	d.Init().Align(escpos.AlignCenter)

	// Header
	d.StyledLine(escpos.ModeDoubleHeight|escpos.ModeDoubleWidth, layout.Name)
	for _, l := range layout.Address {
		d.Line(l)
	}
	if layout.Phone != "" {
		d.Line("Tel: " + layout.Phone)
	}
	d.Rule('=', layout.Width)

	// Order metadata
	d.StyledLine(escpos.ModeDoubleHeight, "COMMANDE #"+orDefault(order.ID))
	d.Line("Date: " + ts.Format(DateLayout))
	d.Line("Type: " + orDefault(order.DeliveryType))
	d.Rule('=', layout.Width)

	// Items
	d.StyledLine(escpos.ModeEmphasized, "ARTICLES COMMANDES")
	d.Rule('=', layout.Width)
	for _, it := range order.Items {
		name := it.Name
		if name == "" {
			name = model.UnknownArticle
		}
		d.Line(name)
		d.Line(fmt.Sprintf("Qte: %d x %s = %s",
			it.Quantity, money(it.Price, layout.Currency), money(it.Total(), layout.Currency)))
		d.Rule('-', layout.Width)
	}

	// Total
	d.Rule('=', layout.Width)
	d.StyledLine(escpos.ModeEmphasized, "TOTAL: "+money(order.Total(), layout.Currency))
	d.Rule('=', layout.Width)

	// Footer
	for _, l := range layout.Footer {
		d.Line(l)
	}
	d.Blank(3)
	d.Cut()

	return d.Bytes()
}

func money(v decimal.Decimal, currency string) string {
	return v.StringFixed(2) + currency
}

func orDefault(s string) string {
	if s == "" {
		return model.UnknownField
	}
	return s
}
