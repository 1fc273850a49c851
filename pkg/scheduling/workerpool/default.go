package workerpool

import (
	"sync"
)

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns a process-wide pool with one worker per CPU.
// It is created and started on first use; concurrent first callers all
// receive the same instance and it is never rebuilt.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = NewWithConfig(Config{Name: "default"})
		defaultPool.Start(0)
	})
	return defaultPool
}
