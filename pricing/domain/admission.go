package domain

// Admissão de clientes no gateway (token bucket por chave).

import "time"

type Key string

// Limiter decide se uma ação é permitida agora.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (IP, API key, sessão).
type LimiterStore interface {
	Get(Key) Limiter
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor de Retry-After quando bloquear. Se 0, não há recomendação.
	RetryAfter time.Duration
}
