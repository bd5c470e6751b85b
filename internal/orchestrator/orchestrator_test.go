package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"hash/crc32"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/datallboy/gonzb/internal/assembler"
	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/events"
	"github.com/datallboy/gonzb/internal/extraction"
	"github.com/datallboy/gonzb/internal/fallback"
	"github.com/datallboy/gonzb/internal/par2"
	"github.com/datallboy/gonzb/internal/pool"
	"github.com/datallboy/gonzb/internal/segment"
)

// noopPar2 never finds anything to repair; test files never carry a .par2
// volume so Verify/Repair are never actually invoked, but the interface slot
// still needs filling.
type noopPar2 struct{}

func (noopPar2) Verify(ctx context.Context, mainPar2Path string) (par2.Result, error) {
	return par2.Result{Success: true}, nil
}
func (noopPar2) Repair(ctx context.Context, mainPar2Path string) (par2.Result, error) {
	return par2.Result{Success: true}, nil
}

func startFakeNNTPServer(t *testing.T, header, data, footer string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				w := bufio.NewWriter(conn)
				fmt.Fprintf(w, "200 hello\r\n")
				w.Flush()
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if !strings.HasPrefix(strings.TrimSpace(line), "BODY") {
						fmt.Fprintf(w, "500 unsupported\r\n")
						w.Flush()
						continue
					}
					fmt.Fprintf(w, "222 body follows\r\n")
					fmt.Fprintf(w, "%s\r\n%s\r\n%s\r\n.\r\n", header, data, footer)
					w.Flush()
				}
			}()
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
	return h, portNum
}

func encodeYencForTest(payload []byte) (header, data, footer string) {
	header = fmt.Sprintf("=ybegin line=128 size=%d name=%s", len(payload), "out.bin")
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

func buildTestOrchestrator(t *testing.T, host string, portNum int) *Orchestrator {
	t.Helper()
	p := pool.New(domain.ProviderConfig{
		ID: "primary", Host: host, Port: portNum,
		MaxConnection: 1, Priority: 1, RetryAttempts: 3, RetryBackoffMs: 1,
	})
	mgr := fallback.NewManager([]*pool.Pool{p})
	asm := assembler.New()
	downloader := segment.NewDownloader(mgr, asm, segment.Hooks{})
	bus := events.NewBus()
	return New(downloader, asm, noopPar2{}, extraction.NewManager(), bus, func() int { return 2 })
}

func TestRunAssemblesFileAndRemovesScratchDir(t *testing.T) {
	payload := []byte("a complete file assembled from one fake segment")
	header, data, footer := encodeYencForTest(payload)
	host, portNum := startFakeNNTPServer(t, header, data, footer)

	outDir := t.TempDir()
	job := domain.NewDownloadJob("job1", "", "release", outDir, false)
	file := domain.NewDownloadFile("out.bin", 0, 0, []domain.Segment{
		{Number: 1, Bytes: int64(len(payload)), MessageID: "msg1"},
	}, outDir, "")
	job.Files = []*domain.DownloadFile{file}

	o := buildTestOrchestrator(t, host, portNum)

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status() != domain.StatusCompleted {
		t.Fatalf("Status() = %q, want completed", job.Status())
	}

	got, err := os.ReadFile(file.FinalPath)
	if err != nil {
		t.Fatalf("reading final file: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("final contents = %q, want %q", got, payload)
	}

	scratchDir := filepath.Join(outDir, ".segments")
	if _, err := os.Stat(scratchDir); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir %q to be removed after a successful run", scratchDir)
	}
}

func TestRunRemovesScratchDirOnCancellation(t *testing.T) {
	outDir := t.TempDir()
	scratchDir := filepath.Join(outDir, ".segments")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		t.Fatalf("seeding scratch dir: %v", err)
	}
	leftover := filepath.Join(scratchDir, "out.bin.1.tmp")
	if err := os.WriteFile(leftover, []byte("partial"), 0o644); err != nil {
		t.Fatalf("seeding leftover scratch file: %v", err)
	}

	job := domain.NewDownloadJob("job2", "", "release", outDir, false)
	file := domain.NewDownloadFile("out.bin", 0, 0, []domain.Segment{
		{Number: 1, Bytes: 10, MessageID: "msg1"},
	}, outDir, "")
	job.Files = []*domain.DownloadFile{file}

	p := pool.New(domain.ProviderConfig{ID: "primary", MaxConnection: 0})
	mgr := fallback.NewManager([]*pool.Pool{p})
	asm := assembler.New()
	downloader := segment.NewDownloader(mgr, asm, segment.Hooks{})
	bus := events.NewBus()
	o := New(downloader, asm, noopPar2{}, extraction.NewManager(), bus, func() int { return 2 })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.Run(ctx, job)
	if err == nil {
		t.Fatal("expected Run to return the cancellation error")
	}
	if job.Status() != domain.StatusCancelled {
		t.Fatalf("Status() = %q, want cancelled", job.Status())
	}

	if _, err := os.Stat(scratchDir); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir %q (with its leftover file) to be removed on cancellation", scratchDir)
	}
}
