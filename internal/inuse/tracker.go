// Package inuse 记录正在被 HTTP 读者消费的 sha1，为缓存层的淘汰与清理提供判断依据。
package inuse

import (
	"io"
	"sync"
)

// Tracker 以 sha1 为键做引用计数，零值不可用，使用 New 构造。
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// New 返回空的 Tracker。
func New() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Acquire 增加 sha1 的引用计数，返回的 release 可重复调用，只生效一次。
// 应在打开缓存文件之前调用，避免打开与登记之间被淘汰。
func (t *Tracker) Acquire(sha1 string) func() {
	t.mu.Lock()
	t.counts[sha1]++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.release(sha1) })
	}
}

func (t *Tracker) release(sha1 string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.counts[sha1]; n > 1 {
		t.counts[sha1] = n - 1
		return
	}
	delete(t.counts, sha1)
}

// IsUsedByReader 满足 cache.InUseOracle。
func (t *Tracker) IsUsedByReader(sha1 string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[sha1] > 0
}

// Active 返回当前被引用的 sha1 数量。
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

// Wrap 返回在 Close 时调用 release 的 ReadCloser。
func Wrap(rc io.ReadCloser, release func()) io.ReadCloser {
	return &trackedReader{ReadCloser: rc, release: release}
}

type trackedReader struct {
	io.ReadCloser
	release func()
}

func (r *trackedReader) Close() error {
	err := r.ReadCloser.Close()
	r.release()
	return err
}
