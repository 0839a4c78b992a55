// Package remote 实现以另一个 binhub 实例为终端的存储层，走它的 /api/binaries 接口。
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/binhub/internal/binary"
	"github.com/any-hub/binhub/internal/logging"
)

const (
	binariesPath = "/api/binaries"

	// HeaderChecksumSHA1 与 HeaderRequestID 由 binhub 的 HTTP 接口设置。
	HeaderChecksumSHA1 = "X-Checksum-Sha1"
	HeaderRequestID    = "X-Request-ID"
)

// Options 描述远端存储层的构造参数。
type Options struct {
	BaseURL        string
	Client         *http.Client
	MaxRetries     int
	InitialBackoff time.Duration
	Logger         *logrus.Logger
}

// Provider 通过 HTTP 访问上游 binhub。读取失败时按指数退避重试，写入不重试。
type Provider struct {
	base           *url.URL
	client         *http.Client
	maxRetries     int
	initialBackoff time.Duration
	logger         *logrus.Logger
}

// StatusError 表示上游返回了非预期的状态码。
type StatusError struct {
	Method string
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
}

// New 校验参数并返回远端存储层。
func New(opts Options) (*Provider, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("remote base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported remote scheme %q", base.Scheme)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid max retries: %d", opts.MaxRetries)
	}
	client := opts.Client
	if client == nil {
		client = NewClient(0)
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{
		base:           base,
		client:         client,
		maxRetries:     opts.MaxRetries,
		initialBackoff: backoff,
		logger:         logger,
	}, nil
}

// BaseURL 返回上游地址。
func (p *Provider) BaseURL() string {
	return p.base.String()
}

func (p *Provider) GetStream(ctx context.Context, sha1 string) (io.ReadCloser, error) {
	sum, err := binary.ParseSHA1(sha1)
	if err != nil {
		return nil, err
	}
	target := p.binaryURL(sum)

	backoff := p.initialBackoff
	for attempt := 0; ; attempt++ {
		body, retry, err := p.fetch(ctx, target, sum)
		if err == nil {
			return body, nil
		}
		if !retry || attempt >= p.maxRetries {
			return nil, err
		}

		fields := logging.BinaryFields("remote_retry", sum)
		fields["attempt"] = attempt + 1
		fields["backoff_ms"] = backoff.Milliseconds()
		fields["error"] = err.Error()
		p.logger.WithFields(fields).Warn("remote_get_retry")

		if err := sleepContext(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

// fetch 执行一次 GET，retry 表示该错误是否值得重试。
func (p *Provider) fetch(ctx context.Context, target, sum string) (io.ReadCloser, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("remote get %s: %w", sum, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if got := strings.ToLower(resp.Header.Get(HeaderChecksumSHA1)); got != "" && got != sum {
			resp.Body.Close()
			return nil, false, fmt.Errorf("%w: upstream answered %s for %s", binary.ErrInvalidChecksum, got, sum)
		}
		return resp.Body, false, nil
	case resp.StatusCode == http.StatusNotFound:
		drain(resp.Body)
		return nil, false, binary.NotFound(sum)
	case resp.StatusCode == http.StatusBadRequest:
		drain(resp.Body)
		return nil, false, fmt.Errorf("%w: %s", binary.ErrInvalidChecksum, sum)
	default:
		drain(resp.Body)
		statusErr := &StatusError{Method: http.MethodGet, URL: target, Status: resp.StatusCode}
		return nil, isRetryableStatus(resp.StatusCode), statusErr
	}
}

func (p *Provider) AddStream(ctx context.Context, r io.Reader) (binary.Info, error) {
	target := p.base.JoinPath(binariesPath).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, r)
	if err != nil {
		return binary.Info{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return binary.Info{}, fmt.Errorf("remote put: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return binary.Info{}, &StatusError{Method: http.MethodPut, URL: target, Status: resp.StatusCode}
	}

	var info binary.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return binary.Info{}, fmt.Errorf("decode remote info: %w", err)
	}
	if !info.Valid() {
		return binary.Info{}, fmt.Errorf("remote returned malformed info: %+v", info)
	}
	return info, nil
}

func (p *Provider) Delete(ctx context.Context, sha1 string) (bool, error) {
	sum, err := binary.ParseSHA1(sha1)
	if err != nil {
		return false, err
	}
	target := p.binaryURL(sum)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return false, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("remote delete %s: %w", sum, err)
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var payload struct {
			Deleted bool `json:"deleted"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return false, fmt.Errorf("decode remote delete: %w", err)
		}
		return payload.Deleted, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &StatusError{Method: http.MethodDelete, URL: target, Status: resp.StatusCode}
	}
}

func (p *Provider) binaryURL(sum string) string {
	return p.base.JoinPath(binariesPath, sum).String()
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drain 读尽并关闭响应体，保证连接可被复用。
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
