// Package application contém os casos de uso da camada de preços:
//
//   - Resolver: cálculo puro do preço efetivo (price list x promoções)
//   - Aggregator: coalescência das consultas de menor preço em lotes
//   - AdmissionService / ConcurrencyService: decisões de admissão e de vagas
//
// Ele depende apenas do pacote domain e não conhece net/http.
package application
