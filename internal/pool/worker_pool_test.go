package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("Stop前执行完所有任务", func(t *testing.T) {
		p := NewWorkerPool(2, 10, zap.NewNop())
		p.Start(context.Background())

		var done atomic.Int32
		for i := 0; i < 10; i++ {
			assert.True(t, p.TrySubmit(func() { done.Add(1) }))
		}
		p.Stop()

		assert.Equal(t, int32(10), done.Load())
	})

	t.Run("队列满时TrySubmit返回false", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		// 未启动，队列只能放一个
		assert.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))
		assert.Equal(t, 1, p.Pending())
	})

	t.Run("停止后拒绝新任务且可重复Stop", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		p.Start(context.Background())
		p.Stop()
		p.Stop()

		assert.False(t, p.TrySubmit(func() {}))
	})

	t.Run("任务panic不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, zap.NewNop())
		var panics, done atomic.Int32
		p.OnPanic(func(any) { panics.Add(1) })
		p.Start(context.Background())

		p.TrySubmit(func() { panic("boom") })
		p.TrySubmit(func() { done.Add(1) })
		p.Stop()

		assert.Equal(t, int32(1), panics.Load())
		assert.Equal(t, int32(1), done.Load())
	})
}
