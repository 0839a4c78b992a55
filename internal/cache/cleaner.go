package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/binhub/internal/checksum"
	"github.com/any-hub/binhub/internal/logging"
)

// triggerClean 非阻塞地启动一次清理；已有清理在运行时直接返回，不排队。
func (p *Provider) triggerClean() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	if !p.cleaner.TryAcquire(1) {
		return
	}
	p.cleaners.Add(1)
	go func() {
		defer p.cleaners.Done()
		defer p.cleaner.Release(1)
		p.cleanFiles()
	}()
}

// cleanFiles 按 LRU 顺序逐个淘汰，直到总大小回到预算内或候选耗尽。
// 正在被读取的文件会被跳过。调用方必须持有 cleaner 许可。
func (p *Provider) cleanFiles() {
	if p.index.totalSize() <= p.maxTotalSize {
		return
	}

	started := time.Now()
	var (
		evicted int
		skipped int
		freed   int64
	)
	for _, candidate := range p.index.snapshot() {
		if p.index.totalSize() <= p.maxTotalSize {
			break
		}
		if p.inUse(candidate.sha1) {
			skipped++
			continue
		}
		size, ok, err := p.evict(candidate.sha1)
		if err != nil {
			fields := logging.BinaryFields("cache_evict", candidate.sha1)
			p.logger.WithFields(fields).WithError(err).Warn("cache_evict_failed")
			continue
		}
		if ok {
			evicted++
			freed += size
		}
	}

	fields := logrus.Fields{
		"action":     "cache_clean",
		"evicted":    evicted,
		"skipped":    skipped,
		"freed":      humanize.IBytes(uint64(freed)),
		"total_size": p.index.totalSize(),
		"max_size":   p.maxTotalSize,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if p.index.totalSize() > p.maxTotalSize {
		p.logger.WithFields(fields).Warn("cache_over_budget")
		return
	}
	p.logger.WithFields(fields).Debug("cache_clean_complete")
}

// evict 先删除文件再移除索引条目；删除失败时保留条目，条目已被并发移除时返回 ok=false。
func (p *Provider) evict(sha1 string) (int64, bool, error) {
	if err := os.Remove(p.filePath(sha1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, false, err
	}
	size, ok := p.index.remove(sha1)
	if !ok {
		return 0, false, nil
	}
	p.evictions.Add(1)
	p.logger.WithFields(logging.BinaryFields("cache_evict", sha1)).Debug("cache_evicted")
	return size, true, nil
}

// PruneResult 汇总一次目录清扫的结果。
type PruneResult struct {
	Removed int   `json:"removed"`
	Freed   int64 `json:"freed_bytes"`
	Skipped int   `json:"skipped"`
}

// Prune 删除缓存目录中所有未被读取的文件（不考虑 LRU），用于启动或维护时回收孤儿文件。
// 清扫期间持有 cleaner 许可，与 LRU 清理互斥。
func (p *Provider) Prune(ctx context.Context) (PruneResult, error) {
	var result PruneResult
	if err := p.cleaner.Acquire(ctx, 1); err != nil {
		return result, err
	}
	defer p.cleaner.Release(1)

	dirEntries, err := os.ReadDir(p.dir)
	if err != nil {
		return result, err
	}
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !de.Type().IsRegular() {
			continue
		}
		name := de.Name()
		if p.inUse(name) {
			result.Skipped++
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return result, err
		}
		if err := os.Remove(filepath.Join(p.dir, name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return result, err
		}
		p.index.remove(name)
		result.Removed++
		result.Freed += info.Size()
	}

	p.logger.WithFields(logrus.Fields{
		"action":  "cache_prune",
		"removed": result.Removed,
		"skipped": result.Skipped,
		"freed":   humanize.IBytes(uint64(result.Freed)),
	}).Info("cache_prune_complete")
	return result, nil
}

// Load 根据目录列表重建内存索引，最早修改的文件视为最久未访问。
// 文件名不是合法 sha1 的文件会被删除。超出预算时触发一次清理。
func (p *Provider) Load(ctx context.Context) (int, error) {
	dirEntries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0, err
	}

	type found struct {
		sha1    string
		size    int64
		modTime time.Time
	}
	files := make([]found, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !de.Type().IsRegular() {
			continue
		}
		name := de.Name()
		if !checksum.ValidSHA1(name) {
			if err := os.Remove(filepath.Join(p.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return 0, err
			}
			p.logger.WithFields(logrus.Fields{"action": "cache_load", "file": name}).Warn("cache_foreign_file_removed")
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		files = append(files, found{sha1: name, size: info.Size(), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	loaded := 0
	for _, f := range files {
		if p.index.accessed(f.sha1, f.size) {
			loaded++
		}
	}

	p.logger.WithFields(logrus.Fields{
		"action":     "cache_load",
		"entries":    loaded,
		"total_size": humanize.IBytes(uint64(p.index.totalSize())),
	}).Info("cache_index_loaded")

	if p.index.totalSize() > p.maxTotalSize {
		p.triggerClean()
	}
	return loaded, nil
}
