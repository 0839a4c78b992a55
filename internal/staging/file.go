package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/any-hub/binhub/internal/checksum"
)

// ErrFinished 表示暂存文件已经被提升或丢弃，不能再次使用。
var ErrFinished = errors.New("staging file already finished")

// File 记录一次传输的临时文件、摘要累加器以及是否读到 EOF。
type File struct {
	file   *os.File
	path   string
	hasher *checksum.Hasher

	fullyConsumed bool
	readErr       error
	writeErr      error
	closed        bool
	finished      bool
}

// Create 在 dir 下创建暂存文件。dir 必须与目标路径位于同一文件系统，以保证 rename 原子。
func Create(dir string) (*File, error) {
	tmp, err := os.CreateTemp(dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &File{
		file:   tmp,
		path:   tmp.Name(),
		hasher: checksum.NewHasher(),
	}, nil
}

// Tee 包装 src：调用方读到的每个分块都会同步写入暂存文件。
func (f *File) Tee(src io.Reader) *Reader {
	return &Reader{src: src, file: f}
}

// Path 返回临时文件路径。
func (f *File) Path() string {
	return f.path
}

// Size 返回已记录的字节数。
func (f *File) Size() int64 {
	return f.hasher.Written()
}

// SHA1 返回已记录内容的 SHA-1。
func (f *File) SHA1() string {
	return f.hasher.SHA1()
}

// MD5 返回已记录内容的 MD5。
func (f *File) MD5() string {
	return f.hasher.MD5()
}

// FullyConsumed 仅在源读到真正的 EOF 时为 true。
func (f *File) FullyConsumed() bool {
	return f.fullyConsumed
}

// Err 返回写暂存文件或关闭句柄时遇到的第一个错误。读错误不在此列，见 ReadErr。
func (f *File) Err() error {
	return f.writeErr
}

// ReadErr 返回从源读取时遇到的非 EOF 错误。
func (f *File) ReadErr() error {
	return f.readErr
}

// Complete 表示内容完整且落盘无误，只有这种状态才允许提升。
func (f *File) Complete() bool {
	return f.fullyConsumed && f.readErr == nil && f.writeErr == nil
}

// Finish 关闭临时文件句柄，幂等。
func (f *File) Finish() error {
	if f.closed {
		return f.writeErr
	}
	f.closed = true
	if err := f.file.Close(); err != nil && f.writeErr == nil {
		f.writeErr = fmt.Errorf("close staging file: %w", err)
	}
	return f.writeErr
}

// Promote 通过一次 rename 将暂存文件移动到 dst。失败时临时文件会被清理。
func (f *File) Promote(dst string) error {
	if f.finished {
		return ErrFinished
	}
	if err := f.Finish(); err != nil {
		f.Discard()
		return err
	}
	f.finished = true
	if err := os.Rename(f.path, dst); err != nil {
		_ = os.Remove(f.path)
		return fmt.Errorf("promote staging file: %w", err)
	}
	return nil
}

// Discard 关闭并删除临时文件，可重复调用。
func (f *File) Discard() {
	_ = f.Finish()
	if f.finished {
		return
	}
	f.finished = true
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.writeErr = errors.Join(f.writeErr, err)
	}
}

func (f *File) record(p []byte) {
	if f.writeErr != nil || f.closed {
		return
	}
	n, err := f.file.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		f.writeErr = fmt.Errorf("write staging file: %w", err)
		return
	}
	_, _ = f.hasher.Write(p)
}

// Reader 是 Tee 返回的装饰器：转发源数据，并在读到 EOF 时置位 FullyConsumed。
// 暂存写入失败不会中断转发，错误记录在 File.Err 中。
type Reader struct {
	src  io.Reader
	file *File
}

// Read 实现 io.Reader。
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.file.record(p[:n])
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		r.file.fullyConsumed = true
	default:
		if r.file.readErr == nil {
			r.file.readErr = err
		}
	}
	return n, err
}
