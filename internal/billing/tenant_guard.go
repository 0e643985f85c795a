package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

const defaultConflictRetries = 5

// TenantGuard сериализует изменения одного тенанта внутри процесса и
// повторяет read-modify-write при конфликте версий между процессами.
// Разные тенанты друг друга не блокируют.
type TenantGuard struct {
	mu         sync.Mutex
	locks      map[string]*tenantLock
	maxRetries uint64
	log        *logger.Logger
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

// NewTenantGuard создает guard с числом повторов по умолчанию.
func NewTenantGuard(log *logger.Logger) *TenantGuard {
	return &TenantGuard{
		locks:      make(map[string]*tenantLock),
		maxRetries: defaultConflictRetries,
		log:        log,
	}
}

// Do выполняет fn под блокировкой тенанта. fn должна перечитывать состояние
// сама: при ErrVersionConflict или ErrDuplicate она вызывается повторно.
func (g *TenantGuard) Do(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	unlock := g.lock(tenantID)
	defer unlock()

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrDuplicate) {
			g.log.Warnw("Concurrent subscription modification, retrying", "tenantID", tenantID, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(newConflictBackOff(), g.maxRetries), ctx))
}

func (g *TenantGuard) lock(tenantID string) func() {
	g.mu.Lock()
	l, ok := g.locks[tenantID]
	if !ok {
		l = &tenantLock{}
		g.locks[tenantID] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, tenantID)
		}
		g.mu.Unlock()
	}
}

func newConflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	b.Reset()
	return b
}
