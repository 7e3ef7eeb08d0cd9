// Package lock выдаёт эксклюзивный доступ к записи по ключу.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// Local блокировки в пределах одного процесса.
type Local struct {
	mu   sync.Mutex
	keys map[string]*keyLock
	wait time.Duration
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocal создаёт локальный менеджер блокировок. wait ограничивает ожидание занятого ключа.
func NewLocal(wait time.Duration) *Local {
	return &Local{keys: make(map[string]*keyLock), wait: wait}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.keys[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.keys[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case kl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.ch
				l.release(key, kl)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, apperror.Wrap(ctx.Err(), apperror.ErrCodeInvalidTransition, "запись изменяется другим запросом")
	}
}

func (l *Local) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.keys, key)
	}
}
