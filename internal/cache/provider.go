package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/any-hub/binhub/internal/binary"
	"github.com/any-hub/binhub/internal/logging"
	"github.com/any-hub/binhub/internal/staging"
)

const stagingDirName = ".staging"

// ErrStagingFailed 表示下一层已经接收内容，但本地缓存副本写入失败。
// AddStream 在这种情况下仍返回有效的 Info。
var ErrStagingFailed = errors.New("cache staging failed")

// InUseOracle 由宿主系统提供，用于判断某个 sha1 是否仍有活跃读者。
type InUseOracle interface {
	IsUsedByReader(sha1 string) bool
}

// InUseFunc 将函数适配为 InUseOracle。
type InUseFunc func(sha1 string) bool

// IsUsedByReader 实现 InUseOracle。
func (f InUseFunc) IsUsedByReader(sha1 string) bool {
	return f(sha1)
}

// Options 在构造时读取一次，运行期不可修改。
type Options struct {
	Dir          string
	MaxTotalSize int64
	Oracle       InUseOracle
	Logger       *logrus.Logger
}

// Provider 是位于 next 之前的磁盘 LRU 缓存层。
type Provider struct {
	next         binary.Provider
	dir          string
	stagingDir   string
	maxTotalSize int64
	oracle       InUseOracle
	logger       *logrus.Logger

	index    *index
	cleaner  *semaphore.Weighted
	cleaners sync.WaitGroup
	// closeMu 保证 closed 判断与 cleaners.Add 不会和 Close 中的 Wait 交错。
	closeMu  sync.Mutex
	closed   bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New 创建缓存层并清理上次遗留的暂存文件。索引初始为空，可通过 Load 或 Prune 处理已有文件。
func New(next binary.Provider, opts Options) (*Provider, error) {
	if next == nil {
		return nil, errors.New("cache requires a next provider")
	}
	if opts.Dir == "" {
		return nil, errors.New("cache dir required")
	}
	if opts.MaxTotalSize <= 0 {
		return nil, fmt.Errorf("invalid cache max size: %d", opts.MaxTotalSize)
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	stagingDir := filepath.Join(dir, stagingDirName)
	if err := os.RemoveAll(stagingDir); err != nil {
		return nil, fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Provider{
		next:         next,
		dir:          dir,
		stagingDir:   stagingDir,
		maxTotalSize: opts.MaxTotalSize,
		oracle:       opts.Oracle,
		logger:       logger,
		index:        newIndex(),
		cleaner:      semaphore.NewWeighted(1),
	}, nil
}

// Dir 返回缓存目录绝对路径。
func (p *Provider) Dir() string {
	return p.dir
}

// GetStream 命中时直接返回缓存文件；未命中时返回一个边读边写暂存文件的流，
// 只有调用方读到 EOF 且摘要一致时，关闭该流才会把内容提升进缓存。
func (p *Provider) GetStream(ctx context.Context, sha1 string) (io.ReadCloser, error) {
	sum, err := binary.ParseSHA1(sha1)
	if err != nil {
		return nil, err
	}

	cached, err := p.openCached(sum)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		p.hits.Add(1)
		return cached, nil
	}

	p.misses.Add(1)
	src, err := p.next.GetStream(ctx, sum)
	if err != nil {
		return nil, err
	}
	stage, err := staging.Create(p.stagingDir)
	if err != nil {
		src.Close()
		return nil, err
	}
	return &cachingStream{
		provider: p,
		sha1:     sum,
		src:      src,
		stage:    stage,
		tee:      stage.Tee(src),
	}, nil
}

// openCached 打开缓存文件并刷新 LRU。文件不存在（包括刚被淘汰）时返回 nil, nil。
func (p *Provider) openCached(sha1 string) (*os.File, error) {
	f, err := os.Open(p.filePath(sha1))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil
	}
	p.accessed(sha1, info.Size())
	return f, nil
}

// AddStream 把输入同时转发给 next 并写入暂存文件，next 返回的 Info 原样返回。
func (p *Provider) AddStream(ctx context.Context, r io.Reader) (binary.Info, error) {
	stage, err := staging.Create(p.stagingDir)
	if err != nil {
		return binary.Info{}, err
	}
	tee := stage.Tee(r)

	info, err := p.next.AddStream(ctx, tee)
	if err != nil {
		stage.Discard()
		return binary.Info{}, err
	}

	// next 可能没有读到 EOF，补读剩余部分以便判断暂存内容是否与 Info 一致。
	_, _ = io.Copy(io.Discard, tee)
	if err := stage.Finish(); err != nil {
		stage.Discard()
		return info, fmt.Errorf("%w: %w", ErrStagingFailed, err)
	}

	fields := logging.BinaryFields("cache_add", info.SHA1)
	if !stage.Complete() {
		fields["error"] = fmt.Sprint(stage.ReadErr())
		p.logger.WithFields(fields).Warn("cache_stage_incomplete")
		stage.Discard()
		return info, nil
	}
	if stage.SHA1() != info.SHA1 || stage.Size() != info.Length {
		fields["staged_sha1"] = stage.SHA1()
		fields["staged_length"] = stage.Size()
		fields["length"] = info.Length
		p.logger.WithFields(fields).Error("cache_stage_mismatch")
		stage.Discard()
		return info, nil
	}

	if err := p.promote(stage, info.SHA1, info.Length); err != nil {
		return info, fmt.Errorf("%w: %w", ErrStagingFailed, err)
	}
	return info, nil
}

// Delete 只删除本层缓存文件，不转发给 next。
func (p *Provider) Delete(ctx context.Context, sha1 string) (bool, error) {
	sum, err := binary.ParseSHA1(sha1)
	if err != nil {
		return false, err
	}
	return p.removeFile(sum)
}

// finishRead 在读穿透流关闭时决定提升还是丢弃暂存文件。
func (p *Provider) finishRead(sha1 string, stage *staging.File) {
	fields := logging.BinaryFields("cache_populate", sha1)
	if !stage.Complete() {
		stage.Discard()
		p.logger.WithFields(fields).Debug("cache_populate_skipped")
		return
	}
	if staged := stage.SHA1(); staged != sha1 {
		fields["staged_sha1"] = staged
		p.logger.WithFields(fields).Error("cache_checksum_mismatch")
		stage.Discard()
		return
	}
	if err := p.promote(stage, sha1, stage.Size()); err != nil {
		fields["error"] = err.Error()
		p.logger.WithFields(fields).Warn("cache_promote_failed")
	}
}

// promote 将暂存文件放到最终路径。已有同长度文件说明并发写入者已完成，直接复用；
// 长度不同则视为本地损坏，删除后替换。
func (p *Provider) promote(stage *staging.File, sha1 string, length int64) error {
	path := p.filePath(sha1)
	if existing, err := os.Stat(path); err == nil && existing.Mode().IsRegular() {
		if existing.Size() == length {
			stage.Discard()
			p.accessed(sha1, existing.Size())
			return nil
		}
		fields := logging.BinaryFields("cache_promote", sha1)
		fields["cached_length"] = existing.Size()
		fields["length"] = length
		p.logger.WithFields(fields).Error("cache_length_mismatch")
		if _, err := p.removeFile(sha1); err != nil {
			stage.Discard()
			return err
		}
	}

	if err := stage.Promote(path); err != nil {
		return err
	}
	p.accessed(sha1, length)
	return nil
}

// accessed 刷新 LRU；新条目导致超出预算时异步触发清理，调用方不等待。
func (p *Provider) accessed(sha1 string, size int64) {
	if p.index.accessed(sha1, size) && p.index.totalSize() > p.maxTotalSize {
		p.triggerClean()
	}
}

func (p *Provider) removeFile(sha1 string) (bool, error) {
	err := os.Remove(p.filePath(sha1))
	switch {
	case err == nil:
		p.index.remove(sha1)
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		p.index.remove(sha1)
		return false, nil
	default:
		return false, err
	}
}

func (p *Provider) filePath(sha1 string) string {
	return filepath.Join(p.dir, sha1)
}

func (p *Provider) inUse(sha1 string) bool {
	return p.oracle != nil && p.oracle.IsUsedByReader(sha1)
}

// Stats 汇总缓存层的运行状态。
type Stats struct {
	Dir          string `json:"dir"`
	Entries      int64  `json:"entries"`
	TotalSize    int64  `json:"total_size"`
	MaxTotalSize int64  `json:"max_total_size"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
}

// Stats 返回当前计数快照。
func (p *Provider) Stats() Stats {
	return Stats{
		Dir:          p.dir,
		Entries:      p.index.len(),
		TotalSize:    p.index.totalSize(),
		MaxTotalSize: p.maxTotalSize,
		Hits:         p.hits.Load(),
		Misses:       p.misses.Load(),
		Evictions:    p.evictions.Load(),
	}
}

// EntryInfo 是单个缓存条目的诊断视图。
type EntryInfo struct {
	SHA1       string    `json:"sha1"`
	Size       int64     `json:"size"`
	LastAccess time.Time `json:"last_access"`
	InUse      bool      `json:"in_use"`
}

// Entries 按淘汰顺序（最久未访问在前）列出缓存条目。
func (p *Provider) Entries() []EntryInfo {
	snapshot := p.index.snapshot()
	result := make([]EntryInfo, 0, len(snapshot))
	for _, e := range snapshot {
		result = append(result, EntryInfo{
			SHA1:       e.sha1,
			Size:       e.size,
			LastAccess: e.accessedAt,
			InUse:      p.inUse(e.sha1),
		})
	}
	return result
}

// Close 停止触发新的清理并等待进行中的清理结束。
func (p *Provider) Close() error {
	p.closeMu.Lock()
	p.closed = true
	p.closeMu.Unlock()
	p.cleaners.Wait()
	return nil
}
