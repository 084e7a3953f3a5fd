// Package pricing fornece os adapters HTTP (net/http + chi) da camada de preços da vitrine.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (resolução de preço, agregação em lote, admissão, vagas)
//   - infra: implementações concretas (cache deduplicador, cliente do backend, token bucket, semáforo, stats)
//   - pricing (este pacote): rotas, middlewares de admissão/concorrência, extração de chave do cliente
//
// Fluxo de uma consulta de menor preço:
//
//  1. A requisição passa pela admissão (token bucket por cliente) e pelo limite de concorrência
//  2. O handler registra interesse no Aggregator da moeda/região
//  3. A janela de debounce fecha e vira uma única chamada ao backend, via DedupCache
//  4. O resultado volta para todos os interessados; falha vira "sem histórico"
//
// Variáveis de ambiente do binário pricing-gateway (cmd/pricing-gateway) controlam o comportamento,
// como BATCH_DEBOUNCE, CACHE_MAX_SIZE, RATE_RPS e CONCURRENCY_MAX.
package pricing
