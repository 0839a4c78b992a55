package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/binhub/internal/binary"
	"github.com/any-hub/binhub/internal/binary/memstore"
)

// upstream 模拟另一个 binhub 实例的 /api/binaries 接口。
type upstream struct {
	store    *memstore.Store
	failGets atomic.Int32
	gets     atomic.Int32
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sum := strings.TrimPrefix(r.URL.Path, binariesPath+"/")
	switch {
	case r.Method == http.MethodPut && r.URL.Path == binariesPath:
		info, err := u.store.AddStream(ctx, r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(info)
	case r.Method == http.MethodGet:
		u.gets.Add(1)
		if u.failGets.Load() > 0 {
			u.failGets.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rc, err := u.store.GetStream(ctx, sum)
		if errors.Is(err, binary.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		defer rc.Close()
		w.Header().Set(HeaderChecksumSHA1, sum)
		_, _ = io.Copy(w, rc)
	case r.Method == http.MethodDelete:
		deleted, _ := u.store.Delete(ctx, sum)
		_ = json.NewEncoder(w).Encode(map[string]bool{"deleted": deleted})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestRemote(t *testing.T, handler http.Handler, retries int) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p, err := New(Options{
		BaseURL:        srv.URL + "/",
		Client:         NewClient(5 * time.Second),
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return p
}

func TestRemoteRoundTrip(t *testing.T) {
	up := &upstream{store: memstore.New()}
	p := newTestRemote(t, up, 0)
	ctx := context.Background()

	payload := []byte("remote payload")
	info, err := p.AddStream(ctx, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("AddStream error: %v", err)
	}
	if info.Length != int64(len(payload)) || !info.Valid() {
		t.Fatalf("unexpected info: %+v", info)
	}

	rc, err := p.GetStream(ctx, strings.ToUpper(info.SHA1))
	if err != nil {
		t.Fatalf("GetStream error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, payload) {
		t.Fatalf("unexpected body %q", got)
	}

	deleted, err := p.Delete(ctx, info.SHA1)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	if _, err := p.GetStream(ctx, info.SHA1); !errors.Is(err, binary.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestRemoteRetriesServerErrors(t *testing.T) {
	up := &upstream{store: memstore.New()}
	sum := up.store.Put([]byte("flaky"))
	up.failGets.Store(2)
	p := newTestRemote(t, up, 3)

	rc, err := p.GetStream(context.Background(), sum)
	if err != nil {
		t.Fatalf("GetStream should succeed after retries: %v", err)
	}
	rc.Close()
	if up.gets.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", up.gets.Load())
	}
}

func TestRemoteGivesUpAfterMaxRetries(t *testing.T) {
	up := &upstream{store: memstore.New()}
	sum := up.store.Put([]byte("down"))
	up.failGets.Store(10)
	p := newTestRemote(t, up, 2)

	_, err := p.GetStream(context.Background(), sum)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status error, got %v", err)
	}
	if up.gets.Load() != 3 {
		t.Fatalf("expected 1 try + 2 retries, got %d", up.gets.Load())
	}
}

func TestRemoteNotFoundIsNotRetried(t *testing.T) {
	up := &upstream{store: memstore.New()}
	p := newTestRemote(t, up, 3)

	_, err := p.GetStream(context.Background(), strings.Repeat("a", 40))
	if !errors.Is(err, binary.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if up.gets.Load() != 1 {
		t.Fatalf("404 should not be retried, got %d attempts", up.gets.Load())
	}
}

func TestRemoteRejectsChecksumHeaderMismatch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderChecksumSHA1, strings.Repeat("b", 40))
		_, _ = w.Write([]byte("wrong"))
	})
	p := newTestRemote(t, handler, 0)

	_, err := p.GetStream(context.Background(), strings.Repeat("a", 40))
	if !errors.Is(err, binary.ErrInvalidChecksum) {
		t.Fatalf("expected ErrInvalidChecksum, got %v", err)
	}
}

func TestRemoteBackoffHonoursContext(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p, err := New(Options{BaseURL: srv.URL, MaxRetries: 5, InitialBackoff: time.Hour, Logger: logger})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.GetStream(ctx, strings.Repeat("c", 40)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRemoteDeleteMissing(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	p := newTestRemote(t, handler, 0)

	deleted, err := p.Delete(context.Background(), strings.Repeat("d", 40))
	if err != nil || deleted {
		t.Fatalf("Delete = %v, %v; want false, nil", deleted, err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("missing base url should fail")
	}
	if _, err := New(Options{BaseURL: "ftp://example.com"}); err == nil {
		t.Fatalf("ftp scheme should fail")
	}
	if _, err := New(Options{BaseURL: "http://example.com", MaxRetries: -1}); err == nil {
		t.Fatalf("negative retries should fail")
	}
}

func TestNewClientUsesTimeout(t *testing.T) {
	if c := NewClient(45 * time.Second); c.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", c.Timeout)
	}
	if c := NewClient(0); c.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", c.Timeout)
	}
}
