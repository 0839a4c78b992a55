// Package filestore 实现按 sha1 前缀分片的文件系统终端层：
//
//	<Root>/<sha1[0:ShardWidth]>/<sha1>    # 正文
//	<Root>/.incoming/                     # 写入中的临时文件
//
// 写入遵循临时文件 + rename，同一 sha1 的提升通过 entryLock 串行化。
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/any-hub/binhub/internal/binary"
	"github.com/any-hub/binhub/internal/checksum"
)

const (
	defaultShardWidth = 2
	incomingDir       = ".incoming"
)

// Option 调整 Store 行为。
type Option func(*Store)

// WithShardWidth 设置分片目录使用的 sha1 前缀长度，0 表示不分片。
func WithShardWidth(n int) Option {
	return func(s *Store) {
		s.shardWidth = n
	}
}

// Store 以 basePath 为根目录保存二进制内容，整站复用一份实例。
type Store struct {
	basePath   string
	shardWidth int

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// New 创建并初始化根目录。
func New(basePath string, opts ...Option) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	s := &Store{
		basePath:   abs,
		shardWidth: defaultShardWidth,
		locks:      make(map[string]*entryLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardWidth < 0 || s.shardWidth > checksum.SHA1Len {
		return nil, fmt.Errorf("invalid shard width: %d", s.shardWidth)
	}

	if err := os.MkdirAll(filepath.Join(abs, incomingDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return s, nil
}

// Root 返回根目录绝对路径。
func (s *Store) Root() string {
	return s.basePath
}

func (s *Store) GetStream(ctx context.Context, sha1 string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.path(sha1)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, binary.NotFound(sha1)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, binary.NotFound(sha1)
	}
	return f, nil
}

func (s *Store) AddStream(ctx context.Context, r io.Reader) (binary.Info, error) {
	tempFile, err := os.CreateTemp(filepath.Join(s.basePath, incomingDir), ".upload-*")
	if err != nil {
		return binary.Info{}, err
	}
	tempName := tempFile.Name()

	hasher := checksum.NewHasher()
	_, err = copyWithContext(ctx, io.MultiWriter(tempFile, hasher), r)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return binary.Info{}, err
	}

	info := binary.Info{
		SHA1:   hasher.SHA1(),
		MD5:    hasher.MD5(),
		Length: hasher.Written(),
	}
	if err := s.commit(tempName, info); err != nil {
		os.Remove(tempName)
		return binary.Info{}, err
	}
	return info, nil
}

// commit 将临时文件提升到分片路径；已存在且长度一致时视为重复上传。
func (s *Store) commit(tempName string, info binary.Info) error {
	unlock := s.lockEntry(info.SHA1)
	defer unlock()

	filePath, err := s.path(info.SHA1)
	if err != nil {
		return err
	}
	if existing, err := os.Stat(filePath); err == nil && existing.Mode().IsRegular() && existing.Size() == info.Length {
		return os.Remove(tempName)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	return os.Rename(tempName, filePath)
}

func (s *Store) Delete(ctx context.Context, sha1 string) (bool, error) {
	unlock := s.lockEntry(sha1)
	defer unlock()

	filePath, err := s.path(sha1)
	if err != nil {
		return false, err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *Store) path(sha1 string) (string, error) {
	if !checksum.ValidSHA1(sha1) {
		return "", fmt.Errorf("%w: %q", binary.ErrInvalidChecksum, sha1)
	}
	if s.shardWidth == 0 {
		return filepath.Join(s.basePath, sha1), nil
	}
	return filepath.Join(s.basePath, sha1[:s.shardWidth], sha1), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
