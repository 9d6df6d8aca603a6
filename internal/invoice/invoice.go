// Package invoice renders the printable HTML invoice of an order.
package invoice

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/nfc-card-store/internal/catalog"
	"github.com/vasiliy-maslov/nfc-card-store/internal/order"
)

const ContentType = "text/html; charset=utf-8"

//go:embed templates/invoice.html
var templates embed.FS

var page = template.Must(template.ParseFS(templates, "templates/invoice.html"))

var frenchMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

var statusLabels = map[order.Status]string{
	order.StatusPending: "En attente de paiement",
	order.StatusPaid:    "Payé",
	order.StatusShipped: "Expédié",
}

type line struct {
	Name      string
	UnitPrice string
	Quantity  int
	Total     string
}

type view struct {
	ID            string
	Date          string
	Status        string
	CustomerName  string
	CustomerEmail string
	Address       string
	Support       string
	NameOnCard    string
	NFCLink       string
	Lines         []line
	Total         string
	ShopName      string
	SupportEmail  string
}

type Renderer struct {
	catalog      *catalog.Catalog
	shopName     string
	supportEmail string
}

func NewRenderer(c *catalog.Catalog, shopName, supportEmail string) *Renderer {
	if shopName == "" {
		shopName = "NFC Cards Shop"
	}
	return &Renderer{catalog: c, shopName: shopName, supportEmail: supportEmail}
}

// Render writes the invoice of o. Values are escaped by html/template.
func (r *Renderer) Render(w io.Writer, o *order.Order) error {
	v := view{
		ID:            o.ID.String(),
		Date:          frenchDate(o.CreatedAt),
		Status:        statusLabels[o.Status],
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Address:       o.Address,
		Support:       o.Support,
		NameOnCard:    o.NFCNameOnCard,
		NFCLink:       o.NFCLink,
		Total:         o.Amount.StringFixed(2),
		ShopName:      r.shopName,
		SupportEmail:  r.supportEmail,
	}
	if v.NameOnCard == "" {
		v.NameOnCard = "Non spécifié"
	}

	for _, item := range o.Items {
		name := item.CardType
		if r.catalog != nil {
			name = r.catalog.Resolve(item.ProductID).Name
		}
		v.Lines = append(v.Lines, line{
			Name:      name,
			UnitPrice: item.UnitAmount.StringFixed(2),
			Quantity:  item.Quantity,
			Total:     item.UnitAmount.Mul(decimal.NewFromInt(int64(item.Quantity))).StringFixed(2),
		})
	}

	if err := page.Execute(w, v); err != nil {
		return fmt.Errorf("invoice: failed to render order %s: %w", o.ID, err)
	}
	return nil
}

// Filename is the suggested attachment name.
func Filename(o *order.Order) string {
	return fmt.Sprintf("facture-%s.html", o.ID)
}

func frenchDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d %s %d", t.Day(), frenchMonths[t.Month()-1], t.Year())
}
