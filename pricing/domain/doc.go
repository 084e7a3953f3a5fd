// Package domain define tipos e contratos do domínio de preços da vitrine:
// variantes, promoções, cotações, histórico de menor preço e os contratos
// de cache, estatísticas e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Os valores monetários já vêm na unidade principal da moeda (ex.: 80.00 zł).
package domain
