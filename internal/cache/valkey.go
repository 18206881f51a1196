package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey or Redis server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

func (c *ValkeyConfig) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
}

// ValkeyProvider speaks RESP2 over a fresh connection per command.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider pings the server before returning so bad credentials
// fail at startup.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("cache: valkey addr is required")
	}
	cfg.defaults()
	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	r, err := p.do(ctx, "PING")
	if err != nil {
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}
	if r.kind != '+' || r.text() != "PONG" {
		return nil, fmt.Errorf("cache: unexpected PING reply %q", r.text())
	}
	return p, nil
}

func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch {
	case r.null:
		return nil, ErrCacheMiss
	case r.kind == '$':
		return r.data, nil
	default:
		return nil, fmt.Errorf("cache: unexpected GET reply type %q", r.kind)
	}
}

func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r, err := p.do(ctx, setArgs(key, value, ttl)...)
	if err != nil {
		return err
	}
	if r.kind != '+' || r.text() != "OK" {
		return fmt.Errorf("cache: unexpected SET reply %q", r.text())
	}
	return nil
}

func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	r, err := p.do(ctx, append(setArgs(key, value, ttl), "NX")...)
	if err != nil {
		return false, err
	}
	if r.null {
		return false, nil
	}
	return r.kind == '+', nil
}

func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Close is a no-op; connections are not pooled.
func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration) []string {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	return args
}

// do runs one command, retrying transient network errors with exponential
// backoff.
func (p *ValkeyProvider) do(ctx context.Context, args ...string) (reply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return reply{}, ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * 25 * time.Millisecond):
			}
		}
		r, err := p.once(ctx, args)
		if err == nil {
			return r, nil
		}
		lastErr = err
		if !transient(err) {
			break
		}
	}
	return reply{}, lastErr
}

func (p *ValkeyProvider) once(ctx context.Context, args []string) (reply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return reply{}, err
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	if p.cfg.Password != "" {
		auth := []string{"AUTH", p.cfg.Password}
		if p.cfg.Username != "" {
			auth = []string{"AUTH", p.cfg.Username, p.cfg.Password}
		}
		if err := p.expectOK(conn, rw, auth); err != nil {
			return reply{}, fmt.Errorf("cache: auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if err := p.expectOK(conn, rw, []string{"SELECT", strconv.Itoa(p.cfg.DB)}); err != nil {
			return reply{}, fmt.Errorf("cache: select: %w", err)
		}
	}
	return p.roundTrip(conn, rw, args)
}

func (p *ValkeyProvider) expectOK(conn net.Conn, rw *bufio.ReadWriter, args []string) error {
	r, err := p.roundTrip(conn, rw, args)
	if err != nil {
		return err
	}
	if r.kind != '+' || !strings.EqualFold(r.text(), "OK") {
		return fmt.Errorf("unexpected reply %q", r.text())
	}
	return nil
}

func (p *ValkeyProvider) roundTrip(conn net.Conn, rw *bufio.ReadWriter, args []string) (reply, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return reply{}, err
	}
	if err := writeCommand(rw.Writer, args); err != nil {
		return reply{}, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return reply{}, err
	}
	return readReply(rw.Reader)
}

func (p *ValkeyProvider) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	if !p.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	host, _, err := net.SplitHostPort(p.cfg.Addr)
	if err != nil {
		host = p.cfg.Addr
	}
	td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
	return td.DialContext(ctx, "tcp", p.cfg.Addr)
}

func transient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ServerError is an error reply ("-ERR ...") from the server.
type ServerError string

func (e ServerError) Error() string { return "cache: server error: " + string(e) }

type reply struct {
	kind byte
	data []byte
	null bool
}

func (r reply) text() string { return string(r.data) }

func writeCommand(w *bufio.Writer, args []string) error {
	fmt.Fprintf(w, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(w, "$%d\r\n%s\r\n", len(a), a)
	}
	return w.Flush()
}

func readReply(r *bufio.Reader) (reply, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return reply{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return reply{}, errors.New("cache: empty reply")
	}
	kind, body := line[0], line[1:]
	switch kind {
	case '+', ':':
		return reply{kind: kind, data: []byte(body)}, nil
	case '-':
		return reply{}, ServerError(body)
	case '$':
		size, err := strconv.Atoi(body)
		if err != nil {
			return reply{}, fmt.Errorf("cache: bad bulk length %q", body)
		}
		if size < 0 {
			return reply{kind: kind, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return reply{}, err
		}
		return reply{kind: kind, data: buf[:size]}, nil
	case '_':
		return reply{kind: kind, null: true}, nil
	default:
		return reply{}, fmt.Errorf("cache: unexpected reply prefix %q", kind)
	}
}
