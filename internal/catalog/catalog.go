// Package catalog lists the card products on sale and resolves the payment
// provider price configured for each of them.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
)

// DefaultProductID is used for empty carts and unknown product ids.
const DefaultProductID = "1"

// placeholderPriceRef is the value shipped in sample env files; it is
// treated as "not configured".
const placeholderPriceRef = "TON_PRICE_ID_ICI"

var ErrPriceNotConfigured = apperr.New(apperr.ErrConfiguration, "payment price is not configured for product")

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	CardType     string          `json:"cardType"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	priceEnvKeys []string
}

var products = []Product{
	{
		ID:           "1",
		Name:         "Carte PVC Pro",
		Description:  "Le meilleur rapport qualité/prix pour un usage pro.",
		CardType:     "PVC_PRO",
		UnitPrice:    decimal.RequireFromString("29.90"),
		priceEnvKeys: []string{"STRIPE_PRICE_ID_PVC_PRO", "STRIPE_PRICE_ID"},
	},
	{
		ID:           "2",
		Name:         "Carte Métal Premium",
		Description:  "Finition premium, effet wow garanti.",
		CardType:     "METAL_PREMIUM",
		UnitPrice:    decimal.RequireFromString("79.90"),
		priceEnvKeys: []string{"STRIPE_PRICE_ID_METAL_PREMIUM"},
	},
	{
		ID:           "3",
		Name:         "Carte Bambou Éco",
		Description:  "Un rendu naturel, durable et élégant.",
		CardType:     "BAMBOO_ECO",
		UnitPrice:    decimal.RequireFromString("49.90"),
		priceEnvKeys: []string{"STRIPE_PRICE_ID_BAMBOO_ECO"},
	},
}

// Catalog resolves products and their provider price references.
type Catalog struct {
	priceIDs map[string]string
}

// New builds a catalog over priceIDs, keyed by env variable name
// (STRIPE_PRICE_ID_PVC_PRO, ...).
func New(priceIDs map[string]string) *Catalog {
	ids := make(map[string]string, len(priceIDs))
	for k, v := range priceIDs {
		ids[k] = strings.TrimSpace(v)
	}
	return &Catalog{priceIDs: ids}
}

func (c *Catalog) Products() []Product {
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// Resolve returns the product for id, falling back to the default product
// when id is unknown.
func (c *Catalog) Resolve(id string) Product {
	for _, p := range products {
		if p.ID == strings.TrimSpace(id) {
			return p
		}
	}
	return products[0]
}

// PriceRef returns the provider price reference of p, or an error wrapping
// ErrPriceNotConfigured.
func (c *Catalog) PriceRef(p Product) (string, error) {
	for _, key := range p.priceEnvKeys {
		if v := c.priceIDs[key]; v != "" && v != placeholderPriceRef {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrPriceNotConfigured, p.ID, strings.Join(p.priceEnvKeys, " or "))
}

// IsPriceNotConfigured reports whether err came from PriceRef.
func IsPriceNotConfigured(err error) bool {
	return errors.Is(err, ErrPriceNotConfigured)
}
