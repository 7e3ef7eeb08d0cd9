package goroutine

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	log, hook := test.NewNullLogger()
	rh := NewRecoveryHandler(log)

	rh.SafeGo("boom", func() { panic("сбой") })
	rh.Wait()

	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, logrus.ErrorLevel, entry.Level)
		assert.Equal(t, "boom", entry.Data["goroutine"])
	}
}

func TestSafeGoWithContext_RunsAndWaits(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	rh := NewRecoveryHandler(log)

	var runs int32
	for i := 0; i < 5; i++ {
		rh.SafeGoWithContext(context.Background(), "work", func(ctx context.Context) {
			atomic.AddInt32(&runs, 1)
		})
	}
	rh.Wait()

	assert.Equal(t, int32(5), atomic.LoadInt32(&runs))
}
