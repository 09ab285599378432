// internal/pkg/keylock/keylock.go
package keylock

import (
	"context"
	"sync"
)

// Locker 是进程内的按键互斥锁，键在没有持有者时被回收
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // 容量为 1 的信号量，支持带 context 的等待
	refs int
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock 获取 key 的锁，ctx 取消时放弃等待
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Len 返回当前仍被引用的键数量
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
