package cache

import (
	"io"
	"sync"

	"github.com/any-hub/binhub/internal/staging"
)

// cachingStream 是未命中时返回给调用方的流。Close 时根据暂存文件状态决定是否写入缓存。
type cachingStream struct {
	provider *Provider
	sha1     string
	src      io.ReadCloser
	stage    *staging.File
	tee      *staging.Reader

	once     sync.Once
	closeErr error
}

func (s *cachingStream) Read(p []byte) (int, error) {
	return s.tee.Read(p)
}

// Close 关闭上游流；内容不完整时丢弃暂存文件，不会污染缓存。
func (s *cachingStream) Close() error {
	s.once.Do(func() {
		s.closeErr = s.src.Close()
		s.provider.finishRead(s.sha1, s.stage)
	})
	return s.closeErr
}
