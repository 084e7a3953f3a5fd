package infra

import (
	"strings"

	"storefront-pricing/pricing/domain"
)

// DefaultVolatilePatterns cobre dados que nunca podem ser servidos velhos:
// estoque, preço, carrinho, pagamento, checkout, cliente autenticado e listagens.
var DefaultVolatilePatterns = []string{
	"inventory",
	"stock",
	"price:",
	"cart",
	"payment",
	"checkout",
	"customer:",
	"catalog:",
}

// VolatileSubstrings classifica como volátil toda chave que contém algum dos padrões.
// Padrões vazios são ignorados.
func VolatileSubstrings(patterns ...string) domain.KeyClassifier {
	ps := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			ps = append(ps, p)
		}
	}
	return func(key string) bool {
		for _, p := range ps {
			if strings.Contains(key, p) {
				return true
			}
		}
		return false
	}
}

// NeverVolatile memoiza tudo.
func NeverVolatile(string) bool { return false }
