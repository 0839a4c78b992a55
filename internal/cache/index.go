package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// entry 与缓存目录中的一个完整文件一一对应。
type entry struct {
	sha1 string
	size int64

	// lastAccess 为严格递增的逻辑时钟，用于 LRU 排序；accessedAt 仅用于诊断输出。
	lastAccess atomic.Uint64
	accessedAt atomic.Int64
}

// index 是 sha1 → entry 的并发映射，外加总大小计数器。
// 单个插入/刷新/删除是原子的；“检查总量后触发清理”这类多步操作允许竞争。
type index struct {
	entries sync.Map
	total   atomic.Int64
	count   atomic.Int64
	tick    atomic.Uint64
	now     func() time.Time
}

func newIndex() *index {
	return &index{now: time.Now}
}

// accessed 幂等插入或刷新。仅当 sha1 为新键时累加总大小并返回 true。
func (x *index) accessed(sha1 string, size int64) bool {
	fresh := &entry{sha1: sha1, size: size}
	x.touch(fresh)

	actual, loaded := x.entries.LoadOrStore(sha1, fresh)
	if loaded {
		x.touch(actual.(*entry))
		return false
	}
	x.total.Add(size)
	x.count.Add(1)
	return true
}

// remove 删除条目并扣减总大小，条目不存在时返回 false。
func (x *index) remove(sha1 string) (int64, bool) {
	value, ok := x.entries.LoadAndDelete(sha1)
	if !ok {
		return 0, false
	}
	e := value.(*entry)
	x.total.Add(-e.size)
	x.count.Add(-1)
	return e.size, true
}

func (x *index) lookup(sha1 string) (entrySnapshot, bool) {
	value, ok := x.entries.Load(sha1)
	if !ok {
		return entrySnapshot{}, false
	}
	return value.(*entry).snapshot(), true
}

func (x *index) totalSize() int64 {
	return x.total.Load()
}

func (x *index) len() int64 {
	return x.count.Load()
}

// snapshot 返回按 lastAccess 升序（最久未访问在前）排列的条目副本。
func (x *index) snapshot() []entrySnapshot {
	result := make([]entrySnapshot, 0, x.count.Load())
	x.entries.Range(func(_, value any) bool {
		result = append(result, value.(*entry).snapshot())
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].lastAccess < result[j].lastAccess
	})
	return result
}

func (x *index) touch(e *entry) {
	e.lastAccess.Store(x.tick.Add(1))
	e.accessedAt.Store(x.now().UnixNano())
}

type entrySnapshot struct {
	sha1       string
	size       int64
	lastAccess uint64
	accessedAt time.Time
}

func (e *entry) snapshot() entrySnapshot {
	return entrySnapshot{
		sha1:       e.sha1,
		size:       e.size,
		lastAccess: e.lastAccess.Load(),
		accessedAt: time.Unix(0, e.accessedAt.Load()),
	}
}
