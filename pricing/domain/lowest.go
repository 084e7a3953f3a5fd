package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// LowestPriceRecord é o menor preço da janela (ex.: 30 dias) de uma variante.
// Campos ausentes na resposta ficam com Valid=false.
type LowestPriceRecord struct {
	VariantID       string              `json:"variant_id"`
	Lowest30dAmount decimal.NullDecimal `json:"lowest_30d_amount"`
	CurrentAmount   decimal.NullDecimal `json:"current_amount"`
}

// LowestPriceTable mapeia variantId -> registro. Um valor nil significa
// "sem histórico", não erro.
type LowestPriceTable map[string]*LowestPriceRecord

type LowestPriceQuery struct {
	VariantIDs   []string
	CurrencyCode string
	RegionID     string
	Days         int
}

// LowestPriceFetcher faz uma única chamada de rede para todo o conjunto de ids.
type LowestPriceFetcher interface {
	FetchLowestPrices(ctx context.Context, q LowestPriceQuery) (LowestPriceTable, error)
}
