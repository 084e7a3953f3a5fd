package application

import (
	"storefront-pricing/pricing/domain"

	"github.com/shopspring/decimal"
)

const DefaultCurrencySuffix = "zł"

var hundred = decimal.NewFromInt(100)

// Resolver calcula o preço efetivo de uma variante a partir dos dados já
// buscados do produto. Função pura e total: dados ausentes viram a cotação
// zerada ou a cotação sem desconto, nunca erro.
type Resolver struct {
	// CurrencySuffix é o marcador da moeda na formatação ("80.00 zł").
	CurrencySuffix string
}

// ResolvePrice usa o resolver padrão (sufixo "zł").
func ResolvePrice(product domain.Product, regionID, variantID string) domain.PriceQuote {
	return Resolver{}.ResolvePrice(product, regionID, variantID)
}

func (r Resolver) ResolvePrice(product domain.Product, regionID, variantID string) domain.PriceQuote {
	variant, base, ok := selectVariant(product.Variants, regionID, variantID)
	if !ok {
		return r.ZeroQuote()
	}

	// desconto de price list tem prioridade absoluta sobre promoções
	if cp := variant.CalculatedPrice; cp.HasPriceListDiscount() && regionMatches(cp.RegionID, regionID) {
		discount := cp.OriginalAmount.Sub(cp.CalculatedAmount)
		pct := discount.Div(cp.OriginalAmount).Mul(hundred)
		q := r.quote(cp.OriginalAmount, cp.CalculatedAmount, pct)
		q.Source = domain.SourcePriceList
		q.VariantID = variant.ID
		return q
	}

	best, amount, pct := bestPromotion(product.Promotions, base)
	if best == nil {
		q := r.quote(base, base, decimal.Zero)
		q.VariantID = variant.ID
		return q
	}

	q := r.quote(base, decimal.Max(decimal.Zero, base.Sub(amount)), pct)
	q.Source = domain.SourcePromotion
	q.VariantID = variant.ID
	q.PromotionID = best.ID
	q.PromotionCode = best.Code
	return q
}

// ZeroQuote é a cotação devolvida quando não há variante ou preço na região.
func (r Resolver) ZeroQuote() domain.PriceQuote {
	return r.quote(decimal.Zero, decimal.Zero, decimal.Zero)
}

// quote monta a cotação final. Com desconto efetivo a porcentagem fica em
// [1,100] para manter HasPromotion == (DiscountPercentage > 0).
func (r Resolver) quote(original, promotional, pct decimal.Decimal) domain.PriceQuote {
	if promotional.GreaterThan(original) {
		promotional = original
	}
	q := domain.PriceQuote{
		OriginalPrice:     r.format(original),
		PromotionalPrice:  r.format(promotional),
		OriginalAmount:    original,
		PromotionalAmount: promotional,
		Source:            domain.SourceNone,
	}
	if !pct.IsPositive() || !promotional.LessThan(original) {
		return q
	}

	rounded := int(pct.Round(0).IntPart())
	if rounded < 1 {
		rounded = 1
	}
	if rounded > 100 {
		rounded = 100
	}
	q.DiscountPercentage = rounded
	q.HasPromotion = true
	return q
}

func (r Resolver) format(amount decimal.Decimal) string {
	suffix := r.CurrencySuffix
	if suffix == "" {
		suffix = DefaultCurrencySuffix
	}
	return amount.StringFixed(2) + " " + suffix
}

// selectVariant escolhe a variante pedida ou, sem id, a de menor preço na
// região (empate: a primeira encontrada). Devolve o preço base na região.
func selectVariant(variants []domain.PriceVariant, regionID, variantID string) (domain.PriceVariant, decimal.Decimal, bool) {
	if variantID != "" {
		for _, v := range variants {
			if v.ID != variantID {
				continue
			}
			amount, ok := regionPrice(v, regionID)
			return v, amount, ok
		}
		return domain.PriceVariant{}, decimal.Zero, false
	}

	found := false
	var best domain.PriceVariant
	var bestAmount decimal.Decimal
	for _, v := range variants {
		amount, ok := regionPrice(v, regionID)
		if !ok {
			continue
		}
		if !found || amount.LessThan(bestAmount) {
			best, bestAmount, found = v, amount, true
		}
	}
	return best, bestAmount, found
}

// regionPrice devolve o primeiro preço da variante na região. Sem região,
// qualquer preço serve.
func regionPrice(v domain.PriceVariant, regionID string) (decimal.Decimal, bool) {
	for _, p := range v.Prices {
		if regionID == "" || p.RegionID == regionID {
			return p.Amount, true
		}
	}
	return decimal.Zero, false
}

func regionMatches(priceRegion, target string) bool {
	return priceRegion == "" || target == "" || priceRegion == target
}

// bestPromotion coloca percentual e fixo na mesma escala (percentual
// equivalente sobre o preço base) e fica com o estritamente maior; em
// empate, a primeira promoção vence. Devolve nil sem desconto positivo.
func bestPromotion(promotions []domain.Promotion, base decimal.Decimal) (*domain.Promotion, decimal.Decimal, decimal.Decimal) {
	if !base.IsPositive() {
		return nil, decimal.Zero, decimal.Zero
	}

	var best *domain.Promotion
	bestAmount, bestPct := decimal.Zero, decimal.Zero
	for i := range promotions {
		m := promotions[i].ApplicationMethod
		if !m.Value.IsPositive() {
			continue
		}

		var amount, pct decimal.Decimal
		switch m.Type {
		case domain.MethodPercentage:
			pct = m.Value
			amount = base.Mul(m.Value).Div(hundred)
		case domain.MethodFixed:
			pct = m.Value.Div(base).Mul(hundred).Round(2)
			amount = m.Value
		default:
			continue
		}

		if pct.GreaterThan(bestPct) {
			best = &promotions[i]
			bestAmount, bestPct = amount, pct
		}
	}
	return best, bestAmount, bestPct
}
