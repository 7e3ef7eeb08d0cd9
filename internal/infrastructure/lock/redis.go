package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// Options параметры распределённой блокировки.
type Options struct {
	Expiry      time.Duration
	Tries       int
	RetryDelay  time.Duration
	DriftFactor float64
}

// DefaultOptions подходят для коротких переходов эскроу.
func DefaultOptions() Options {
	return Options{
		Expiry:      10 * time.Second,
		Tries:       10,
		RetryDelay:  100 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// Redis блокировки для нескольких экземпляров сервиса (redsync поверх go-redis).
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	prefix string
	log    logrus.FieldLogger
}

func NewRedis(client goredislib.UniversalClient, opts Options, log logrus.FieldLogger) *Redis {
	if opts.Tries <= 0 {
		opts = DefaultOptions()
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		prefix: "freight:lock:",
		log:    log,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	mutex := r.rs.NewMutex(
		r.prefix+key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
		redsync.WithDriftFactor(r.opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperror.Wrap(err, apperror.ErrCodeInvalidTransition, "запись изменяется другим запросом")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить блокировку")
	}

	return func() {
		// Контекст запроса может быть уже отменён, снимаем блокировку в своём.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			r.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("lock: не удалось снять блокировку")
		}
	}, nil
}
