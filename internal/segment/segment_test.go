package segment

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/fallback"
	"github.com/datallboy/gonzb/internal/pool"
)

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	p := pool.New(domain.ProviderConfig{ID: "p1", RetryBackoffMs: 100})
	delay := backoffDelay(p)

	got1 := delay(1, fmt.Errorf("boom"), &retry.Config{})
	got2 := delay(2, fmt.Errorf("boom"), &retry.Config{})
	got3 := delay(3, fmt.Errorf("boom"), &retry.Config{})

	if got1 != 100*time.Millisecond || got2 != 200*time.Millisecond || got3 != 400*time.Millisecond {
		t.Fatalf("delays = %v, %v, %v; want 100ms, 200ms, 400ms", got1, got2, got3)
	}
}

func TestBackoffDelayShortCircuitsOnProviderBusy(t *testing.T) {
	p := pool.New(domain.ProviderConfig{ID: "p1", RetryBackoffMs: 5000})
	delay := backoffDelay(p)

	got := delay(3, domain.ErrProviderBusy, &retry.Config{})
	if got != 100*time.Millisecond {
		t.Fatalf("delay on ErrProviderBusy = %v, want 100ms regardless of attempt/backoff base", got)
	}
}

// fakeWriter is an in-memory segment.Writer so tests don't touch the
// filesystem.
type fakeWriter struct {
	mu      sync.Mutex
	written map[string][]byte
}

func newFakeWriter() *fakeWriter { return &fakeWriter{written: make(map[string][]byte)} }

func (w *fakeWriter) WriteScratchSegment(scratchDir, fileName string, segNum int, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := fmt.Sprintf("%s.%d", fileName, segNum)
	buf := make([]byte, len(data))
	copy(buf, data)
	w.written[key] = buf
	return key, nil
}

// startFakeNNTPServer accepts connections on 127.0.0.1, greets, and answers
// every BODY command via respond. respond is called once per BODY command
// (across all connections) with a 1-based running count.
func startFakeNNTPServer(t *testing.T, respond func(n int, msgID string) (status string, bodyLines []string)) (host string, port int, count *int32) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	var n int32

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeNNTP(conn, respond, &n)
		}
	}()

	h, p, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return h, portNum, &n
}

func serveFakeNNTP(conn net.Conn, respond func(n int, msgID string) (string, []string), count *int32) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	writeFakeLine(w, "200 hello")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, "BODY") {
			writeFakeLine(w, "500 unsupported command")
			continue
		}

		msgID := strings.TrimSpace(strings.TrimPrefix(line, "BODY"))
		n := int(atomic.AddInt32(count, 1))
		status, bodyLines := respond(n, msgID)
		writeFakeLine(w, status)
		if strings.HasPrefix(status, "222") {
			for _, l := range bodyLines {
				writeFakeLine(w, l)
			}
			writeFakeLine(w, ".")
		}
	}
}

func writeFakeLine(w *bufio.Writer, line string) {
	_, _ = w.WriteString(line + "\r\n")
	_ = w.Flush()
}

// encodeYencForTest builds a single-part yEnc body (header, one data line,
// trailer) for payload, escaping bytes the wire format reserves.
func encodeYencForTest(payload []byte) (header, data, footer string) {
	header = fmt.Sprintf("=ybegin line=128 size=%d name=test.bin", len(payload))

	var sb strings.Builder
	for _, b := range payload {
		enc := b + 42
		if enc == '=' || enc == '\r' || enc == '\n' || enc == 0 {
			sb.WriteByte('=')
			sb.WriteByte(enc + 64)
			continue
		}
		sb.WriteByte(enc)
	}
	data = sb.String()

	crc := crc32.ChecksumIEEE(payload)
	footer = fmt.Sprintf("=yend size=%d pc32=%08x", len(payload), crc)
	return header, data, footer
}

func statsByID(stats []domain.ProviderStats) map[string]*domain.ProviderStats {
	out := make(map[string]*domain.ProviderStats, len(stats))
	for i := range stats {
		out[stats[i].ProviderID] = &stats[i]
	}
	return out
}

func TestProcessExhaustsPrimaryBudgetThenFallsBackAndSucceeds(t *testing.T) {
	primaryHost, primaryPort, primaryCount := startFakeNNTPServer(t, func(n int, msgID string) (string, []string) {
		return "500 temporary failure", nil
	})

	payload := []byte("hello from the fallback integration test")
	header, data, footer := encodeYencForTest(payload)
	secondaryHost, secondaryPort, secondaryCount := startFakeNNTPServer(t, func(n int, msgID string) (string, []string) {
		return "222 body follows", []string{header, data, footer}
	})

	primaryPool := pool.New(domain.ProviderConfig{
		ID: "primary", Host: primaryHost, Port: primaryPort,
		MaxConnection: 1, Priority: 1, RetryAttempts: 3, RetryBackoffMs: 1,
	})
	secondaryPool := pool.New(domain.ProviderConfig{
		ID: "secondary", Host: secondaryHost, Port: secondaryPort,
		MaxConnection: 1, Priority: 2, RetryAttempts: 3, RetryBackoffMs: 1,
	})

	mgr := fallback.NewManager([]*pool.Pool{primaryPool, secondaryPool})
	writer := newFakeWriter()
	d := NewDownloader(mgr, writer, Hooks{})

	seg := &domain.Segment{Number: 1, Bytes: int64(len(payload)), MessageID: "msg1"}
	job := domain.SegmentJob{
		Segment:    seg,
		File:       &domain.DownloadFile{Name: "file.bin"},
		ScratchDir: "scratch",
	}

	n, err := d.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("n = %d, want %d", n, len(payload))
	}

	got, ok := writer.written["file.bin.1"]
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("scratch write = %q, want %q", got, payload)
	}

	if got := atomic.LoadInt32(primaryCount); got != 3 {
		t.Fatalf("primary received %d BODY requests, want exactly 3 (no 4th attempt past its retry budget)", got)
	}
	if got := atomic.LoadInt32(secondaryCount); got != 1 {
		t.Fatalf("secondary received %d BODY requests, want 1", got)
	}

	if got := seg.Fallback.RetryCount("primary"); got != 3 {
		t.Fatalf("primary retry count = %d, want 3", got)
	}

	stats := statsByID(mgr.Stats())
	if stats["secondary"] == nil || stats["secondary"].FallbacksTriggered != 1 {
		t.Fatal("expected exactly one fallback recorded against secondary, not primary")
	}
	if stats["primary"] != nil && stats["primary"].FallbacksTriggered != 0 {
		t.Fatal("primary should never have a fallback recorded against itself")
	}
}

func TestProcessReturnsAllProvidersExhaustedWhenArticleMissingEverywhere(t *testing.T) {
	primaryHost, primaryPort, primaryCount := startFakeNNTPServer(t, func(n int, msgID string) (string, []string) {
		return "430 no such article", nil
	})
	secondaryHost, secondaryPort, secondaryCount := startFakeNNTPServer(t, func(n int, msgID string) (string, []string) {
		return "430 no such article", nil
	})

	primaryPool := pool.New(domain.ProviderConfig{
		ID: "primary", Host: primaryHost, Port: primaryPort,
		MaxConnection: 1, Priority: 1, RetryAttempts: 3, RetryBackoffMs: 1,
	})
	secondaryPool := pool.New(domain.ProviderConfig{
		ID: "secondary", Host: secondaryHost, Port: secondaryPort,
		MaxConnection: 1, Priority: 2, RetryAttempts: 3, RetryBackoffMs: 1,
	})

	mgr := fallback.NewManager([]*pool.Pool{primaryPool, secondaryPool})
	writer := newFakeWriter()
	d := NewDownloader(mgr, writer, Hooks{})

	seg := &domain.Segment{Number: 1, Bytes: 10, MessageID: "msg1"}
	job := domain.SegmentJob{
		Segment:    seg,
		File:       &domain.DownloadFile{Name: "file.bin"},
		ScratchDir: "scratch",
	}

	_, err := d.Process(context.Background(), job)
	if err == nil {
		t.Fatal("expected an error when every provider confirms the article missing")
	}
	if !strings.Contains(err.Error(), "exhausted") {
		t.Fatalf("error = %v, want it to mention exhaustion", err)
	}

	// A 430 is non-retryable, so each provider should see exactly one attempt.
	if got := atomic.LoadInt32(primaryCount); got != 1 {
		t.Fatalf("primary received %d BODY requests, want 1 (article-not-found is not retried)", got)
	}
	if got := atomic.LoadInt32(secondaryCount); got != 1 {
		t.Fatalf("secondary received %d BODY requests, want 1", got)
	}
}
