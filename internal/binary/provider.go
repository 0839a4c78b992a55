package binary

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/any-hub/binhub/internal/checksum"
)

// Provider 是存储链中每一层的能力约定。
type Provider interface {
	// GetStream 返回 sha1 对应内容的流；链上均不存在时返回包装了 ErrNotFound 的错误。
	GetStream(ctx context.Context, sha1 string) (io.ReadCloser, error)

	// AddStream 消费整个 r 并返回权威的 Info。
	AddStream(ctx context.Context, r io.Reader) (Info, error)

	// Delete 只删除本层的内容，不向下一层转发。
	Delete(ctx context.Context, sha1 string) (bool, error)
}

// Info 描述一个已存储的二进制内容，SHA1 相同即视为同一对象。
type Info struct {
	SHA1   string `json:"sha1"`
	MD5    string `json:"md5"`
	Length int64  `json:"length"`
}

var (
	// ErrNotFound 表示链上没有该内容。
	ErrNotFound = errors.New("binary not found")
	// ErrInvalidChecksum 表示调用方传入的 sha1 不是 40 位十六进制。
	ErrInvalidChecksum = errors.New("invalid sha1 checksum")
)

// NotFound 构造携带 sha1 的 ErrNotFound。
func NotFound(sha1 string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, sha1)
}

// ParseSHA1 归一化并校验调用方提供的 sha1。
func ParseSHA1(raw string) (string, error) {
	sum := checksum.Normalize(raw)
	if !checksum.ValidSHA1(sum) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChecksum, raw)
	}
	return sum, nil
}

// Valid 检查 Info 的字段格式。
func (i Info) Valid() bool {
	return checksum.ValidSHA1(i.SHA1) && checksum.ValidMD5(i.MD5) && i.Length >= 0
}
