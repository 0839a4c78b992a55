// Package checksum 计算并校验制品内容的 SHA-1/MD5 摘要，是整个二进制存储的身份来源。
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

const (
	// SHA1Len/MD5Len 为十六进制表示的长度。
	SHA1Len = 40
	MD5Len  = 32

	// EmptySHA1/EmptyMD5 为零字节内容的摘要。
	EmptySHA1 = "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	EmptyMD5  = "d41d8cd98f00b204e9800998ecf8427e"
)

// Hasher 单次遍历同时累计 SHA-1、MD5 与写入长度，可作为 io.Writer 挂在任意 tee 上。
type Hasher struct {
	sha1    hash.Hash
	md5     hash.Hash
	written int64
}

// NewHasher 返回空的摘要累加器。
func NewHasher() *Hasher {
	return &Hasher{
		sha1: sha1.New(),
		md5:  md5.New(),
	}
}

// Write 实现 io.Writer，hash.Hash 的 Write 永不返回错误。
func (h *Hasher) Write(p []byte) (int, error) {
	h.sha1.Write(p)
	h.md5.Write(p)
	h.written += int64(len(p))
	return len(p), nil
}

// SHA1 返回当前累计内容的十六进制 SHA-1。
func (h *Hasher) SHA1() string {
	return hex.EncodeToString(h.sha1.Sum(nil))
}

// MD5 返回当前累计内容的十六进制 MD5。
func (h *Hasher) MD5() string {
	return hex.EncodeToString(h.md5.Sum(nil))
}

// Written 返回累计写入的字节数。
func (h *Hasher) Written() int64 {
	return h.written
}

// Sum 读取 r 直到 EOF，返回 SHA-1、MD5 与长度。
func Sum(r io.Reader) (sha1Hex, md5Hex string, n int64, err error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return "", "", h.Written(), err
	}
	return h.SHA1(), h.MD5(), h.Written(), nil
}

// SumBytes 是 Sum 的内存版本。
func SumBytes(data []byte) (sha1Hex, md5Hex string) {
	h := NewHasher()
	_, _ = h.Write(data)
	return h.SHA1(), h.MD5()
}

// Normalize 去除空白并转为小写，调用方传入的 sha1 在入口处统一经过它。
func Normalize(sum string) string {
	return strings.ToLower(strings.TrimSpace(sum))
}

// ValidSHA1 判断 sum 是否为 40 位小写十六进制。
func ValidSHA1(sum string) bool {
	return isHex(sum, SHA1Len)
}

// ValidMD5 判断 sum 是否为 32 位小写十六进制。
func ValidMD5(sum string) bool {
	return isHex(sum, MD5Len)
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
