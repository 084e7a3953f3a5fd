package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyKey  = errors.New("cache key must not be empty")
	ErrReleased  = errors.New("interest released before dispatch")
	ErrSaturated = errors.New("no dispatch slot available")
	ErrClosed    = errors.New("aggregator closed")
)

// Producer é a operação assíncrona cujo resultado o cache deduplica.
type Producer[T any] func(ctx context.Context) (T, error)

// Executor garante no máximo uma operação em voo por chave e memoização por ttl.
type Executor[T any] interface {
	Execute(ctx context.Context, key string, fn Producer[T], ttl time.Duration) (T, error)
}

// KeyClassifier diz se uma chave é volátil (nunca memoizada além da janela em voo).
type KeyClassifier func(key string) bool
