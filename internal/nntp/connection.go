// Package nntp implements a single NNTP connection's state machine: dial,
// greet, authenticate, optionally select a group, and stream article bodies.
package nntp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/transport"
)

// Connection is one physical link to a Usenet server. It is not safe for
// concurrent use by multiple goroutines — the pool hands out at most one
// caller per Connection at a time.
type Connection struct {
	cfg domain.ProviderConfig

	mu    sync.Mutex
	conn  *transport.Conn
	state domain.ConnectionState
	group string
}

func NewConnection(cfg domain.ProviderConfig) *Connection {
	return &Connection{cfg: cfg, state: domain.StateClosed}
}

func (c *Connection) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials, reads the greeting, and authenticates if credentials are
// configured. It is idempotent: calling it on an already-ready connection is
// a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == domain.StateReady {
		return nil
	}

	c.state = domain.StateConnecting

	dialer := transport.Dialer{
		Host:               c.cfg.Host,
		Port:               c.cfg.Port,
		TLS:                c.cfg.TLS,
		InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		DialTimeout:        10 * time.Second,
	}

	conn, err := dialer.Dial()
	if err != nil {
		c.state = domain.StateError
		return err
	}
	c.conn = conn

	if err := c.readGreeting(); err != nil {
		c.state = domain.StateError
		_ = c.conn.Close()
		return err
	}

	c.state = domain.StateAuthenticating
	if err := c.authenticate(); err != nil {
		c.state = domain.StateError
		_ = c.conn.Close()
		return err
	}

	c.state = domain.StateReady
	return nil
}

func (c *Connection) readGreeting() error {
	line, err := c.conn.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: reading greeting: %v", domain.ErrConnectionFailed, err)
	}
	code := statusCode(line)
	if code != 200 && code != 201 {
		return fmt.Errorf("%w: unexpected greeting %q", domain.ErrProtocolError, line)
	}
	return nil
}

func (c *Connection) authenticate() error {
	if c.cfg.Username == "" {
		return nil
	}

	if err := c.conn.WriteLine("AUTHINFO USER %s", c.cfg.Username); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	line, err := c.conn.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	if statusCode(line) != 381 {
		return fmt.Errorf("%w: AUTHINFO USER got %q", domain.ErrAuthFailed, line)
	}

	if err := c.conn.WriteLine("AUTHINFO PASS %s", c.cfg.Password); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	line, err = c.conn.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	if statusCode(line) != 281 {
		return fmt.Errorf("%w: AUTHINFO PASS got %q", domain.ErrAuthFailed, line)
	}
	return nil
}

// SelectGroup issues GROUP, only if the provider config opts into it —
// spec.md's Open Question resolves to "never issue it unless asked."
func (c *Connection) SelectGroup(group string) error {
	if !c.cfg.SendGroup || group == "" || group == c.group {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.WriteLine("GROUP %s", group); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	line, err := c.conn.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	if statusCode(line) != 211 {
		return fmt.Errorf("%w: GROUP got %q", domain.ErrProtocolError, line)
	}
	c.group = group
	return nil
}

// Fetch issues BODY <msgID> and returns a reader over the dot-unstuffed
// article body. The caller must read to EOF (or Close) before reusing the
// connection.
func (c *Connection) Fetch(ctx context.Context, msgID string, groups []string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state != domain.StateReady {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connection not ready (state=%s)", domain.ErrConnectionFailed, c.State())
	}
	c.state = domain.StateBusy
	c.mu.Unlock()

	if len(groups) > 0 {
		if err := c.SelectGroup(groups[0]); err != nil {
			c.setReady()
			return nil, err
		}
	}

	formatted := msgID
	if !strings.HasPrefix(formatted, "<") {
		formatted = "<" + formatted + ">"
	}

	if err := c.conn.WriteLine("BODY %s", formatted); err != nil {
		c.fail()
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	line, err := c.conn.ReadLine()
	if err != nil {
		c.fail()
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	code := statusCode(line)
	switch code {
	case 222:
		// Body follows, fall through to the dot reader below.
	case 430, 423:
		c.setReady()
		return nil, domain.ErrArticleNotFound
	default:
		c.setReady()
		return nil, fmt.Errorf("%w: BODY got %q", domain.ErrProtocolError, line)
	}

	return &bodyReader{conn: c, r: c.conn.Reader}, nil
}

func (c *Connection) setReady() {
	c.mu.Lock()
	if c.state != domain.StateError {
		c.state = domain.StateReady
	}
	c.mu.Unlock()
}

func (c *Connection) fail() {
	c.mu.Lock()
	c.state = domain.StateError
	c.mu.Unlock()
}

// Close sends QUIT (best effort) and closes the socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.state = domain.StateClosed
		return nil
	}
	_ = c.conn.WriteLine("QUIT")
	err := c.conn.Close()
	c.state = domain.StateClosed
	return err
}

func statusCode(line string) int {
	if len(line) < 3 {
		return 0
	}
	n, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0
	}
	return n
}

// bodyReader un-dot-stuffs a multiline NNTP body as it is read, terminating
// at the lone "." line, and restores the underlying connection to Ready
// once fully drained or closed.
type bodyReader struct {
	conn *Connection
	r    *bufio.Reader
	done bool
	buf  []byte
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}

	for len(b.buf) == 0 {
		line, err := b.r.ReadBytes('\n')
		if err != nil {
			b.done = true
			b.conn.fail()
			return 0, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		}

		trimmed := strings.TrimRight(string(line), "\r\n")
		if trimmed == "." {
			b.done = true
			b.conn.setReady()
			return 0, io.EOF
		}

		if strings.HasPrefix(trimmed, "..") {
			trimmed = trimmed[1:]
		}

		b.buf = append([]byte(trimmed), '\r', '\n')
	}

	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *bodyReader) Close() error {
	if b.done {
		return nil
	}
	// Drain to keep the connection reusable.
	_, _ = io.Copy(io.Discard, b)
	return nil
}
