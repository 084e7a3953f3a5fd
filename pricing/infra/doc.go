// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - DedupCache: no máximo uma operação em voo por chave (singleflight) + memoização com TTL e LRU por inserção
//   - CommerceClient: cliente HTTP do endpoint de menor preço em lote (rate limit, retry com backoff)
//   - LimiterStore: token bucket por chave usando golang.org/x/time/rate
//   - SlotPool: cota de vagas (requisições, lotes, chamadas ao backend)
//   - MemoryStatsStore, RedisStatsStore, PromStats: sinks de estatísticas
package infra
