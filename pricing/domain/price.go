package domain

import "github.com/shopspring/decimal"

// Product é o recorte do produto já buscado na plataforma de commerce
// que interessa para o cálculo de preço.
type Product struct {
	ID         string         `json:"id"`
	Variants   []PriceVariant `json:"variants"`
	Promotions []Promotion    `json:"promotions"`
}

type Price struct {
	Amount       decimal.Decimal `json:"amount"`
	RegionID     string          `json:"region_id,omitempty"`
	CurrencyCode string          `json:"currency_code,omitempty"`
}

// CalculatedPrice é o preço pré-calculado pelas regras de price list do backend.
type CalculatedPrice struct {
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	CalculatedAmount decimal.Decimal `json:"calculated_amount"`
	RegionID         string          `json:"region_id,omitempty"`
}

type PriceVariant struct {
	ID              string           `json:"id"`
	Prices          []Price          `json:"prices"`
	CalculatedPrice *CalculatedPrice `json:"calculated_price,omitempty"`
}

// HasPriceListDiscount indica desconto embutido pela price list.
func (c *CalculatedPrice) HasPriceListDiscount() bool {
	if c == nil {
		return false
	}
	return c.OriginalAmount.IsPositive() && c.CalculatedAmount.LessThan(c.OriginalAmount)
}

type MethodType string

const (
	MethodPercentage MethodType = "percentage"
	MethodFixed      MethodType = "fixed"
)

type ApplicationMethod struct {
	Type       MethodType      `json:"type"`
	Value      decimal.Decimal `json:"value"`
	TargetType string          `json:"target_type,omitempty"`
	Allocation string          `json:"allocation,omitempty"`
}

type Promotion struct {
	ID                string            `json:"id"`
	Code              string            `json:"code"`
	IsAutomatic       bool              `json:"is_automatic"`
	ApplicationMethod ApplicationMethod `json:"application_method"`
}

type QuoteSource string

const (
	SourceNone      QuoteSource = "none"
	SourcePriceList QuoteSource = "price_list"
	SourcePromotion QuoteSource = "promotion"
)

// PriceQuote é o resultado de uma resolução de preço. Valor imutável,
// criado a cada chamada.
//
// Invariantes: PromotionalAmount <= OriginalAmount e
// HasPromotion == (DiscountPercentage > 0).
type PriceQuote struct {
	OriginalPrice      string `json:"original_price"`
	PromotionalPrice   string `json:"promotional_price"`
	DiscountPercentage int    `json:"discount_percentage"`
	HasPromotion       bool   `json:"has_promotion"`

	OriginalAmount    decimal.Decimal `json:"original_amount"`
	PromotionalAmount decimal.Decimal `json:"promotional_amount"`
	Source            QuoteSource     `json:"source"`
	VariantID         string          `json:"variant_id,omitempty"`
	PromotionID       string          `json:"promotion_id,omitempty"`
	PromotionCode     string          `json:"promotion_code,omitempty"`
}
