// Package memstore 提供进程内的终端存储层，用于测试以及 Backend.Type = "memory" 的临时部署。
package memstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/any-hub/binhub/internal/binary"
	"github.com/any-hub/binhub/internal/checksum"
)

// Store 以 sha1 为键保存完整内容。
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	gets atomic.Int64
	adds atomic.Int64
}

// New 返回空的内存存储。
func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) GetStream(ctx context.Context, sha1 string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.gets.Add(1)

	s.mu.RLock()
	data, ok := s.blobs[sha1]
	s.mu.RUnlock()
	if !ok {
		return nil, binary.NotFound(sha1)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) AddStream(ctx context.Context, r io.Reader) (binary.Info, error) {
	if err := ctx.Err(); err != nil {
		return binary.Info{}, err
	}
	s.adds.Add(1)

	data, err := io.ReadAll(r)
	if err != nil {
		return binary.Info{}, err
	}
	sha1Hex, md5Hex := checksum.SumBytes(data)

	s.mu.Lock()
	if _, exists := s.blobs[sha1Hex]; !exists {
		s.blobs[sha1Hex] = data
	}
	s.mu.Unlock()

	return binary.Info{SHA1: sha1Hex, MD5: md5Hex, Length: int64(len(data))}, nil
}

func (s *Store) Delete(ctx context.Context, sha1 string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[sha1]; !ok {
		return false, nil
	}
	delete(s.blobs, sha1)
	return true, nil
}

// Put 直接写入内容并返回 sha1，测试中用于预置数据。
func (s *Store) Put(data []byte) string {
	sha1Hex, _ := checksum.SumBytes(data)
	s.mu.Lock()
	s.blobs[sha1Hex] = append([]byte(nil), data...)
	s.mu.Unlock()
	return sha1Hex
}

// Len 返回保存的对象数量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Gets 返回 GetStream 被调用的次数。
func (s *Store) Gets() int64 {
	return s.gets.Load()
}

// Adds 返回 AddStream 被调用的次数。
func (s *Store) Adds() int64 {
	return s.adds.Load()
}
