package cache

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMemoryProviderTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryProvider()
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "a", []byte("1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "a")
	if err != nil || string(got) != "1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	got[0] = 'x'
	if again, _ := m.Get(ctx, "a"); string(again) != "1" {
		t.Fatalf("Get must return a copy, got %q", again)
	}

	ok, _ := m.SetNX(ctx, "a", []byte("2"), time.Minute)
	if ok {
		t.Fatalf("SetNX should lose against a live key")
	}

	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
	ok, _ = m.SetNX(ctx, "a", []byte("3"), 0)
	if !ok {
		t.Fatalf("SetNX should win after expiry")
	}

	_ = m.Del(ctx, "a")
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after Del, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(*MemoryProvider); !ok {
		t.Fatalf("expected memory provider, got %T", p)
	}
	p, _ = New(Config{Backend: BackendNone})
	if _, ok := p.(NoopProvider); !ok {
		t.Fatalf("expected noop provider, got %T", p)
	}
	if _, err := New(Config{Backend: "memcached"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if _, err := New(Config{Backend: BackendValkey}); err == nil {
		t.Fatalf("expected error for valkey without addr")
	}
}

// fakeValkey is a single-threaded RESP server holding string keys.
type fakeValkey struct {
	ln       net.Listener
	mu       sync.Mutex
	data     map[string]string
	password string
	commands []string
}

func startFakeValkey(t *testing.T, password string) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeValkey{ln: ln, data: make(map[string]string), password: password}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := f.password == ""
	for {
		args, err := readArgs(r)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.commands = append(f.commands, args[0])
		var out string
		switch strings.ToUpper(args[0]) {
		case "AUTH":
			if args[len(args)-1] == f.password {
				authed = true
				out = "+OK\r\n"
			} else {
				out = "-WRONGPASS invalid password\r\n"
			}
		case "PING":
			out = "+PONG\r\n"
		case "GET":
			if !authed {
				out = "-NOAUTH\r\n"
			} else if v, ok := f.data[args[1]]; ok {
				out = "$" + strconv.Itoa(len(v)) + "\r\n" + v + "\r\n"
			} else {
				out = "$-1\r\n"
			}
		case "SET":
			nx := strings.EqualFold(args[len(args)-1], "NX")
			if _, exists := f.data[args[1]]; nx && exists {
				out = "$-1\r\n"
			} else {
				f.data[args[1]] = args[2]
				out = "+OK\r\n"
			}
		case "DEL":
			delete(f.data, args[1])
			out = ":1\r\n"
		default:
			out = "-ERR unknown command\r\n"
		}
		f.mu.Unlock()
		if _, err := io.WriteString(conn, out); err != nil {
			return
		}
	}
}

func readArgs(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, _ := strconv.Atoi(strings.TrimSpace(header[1:]))
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	srv := startFakeValkey(t, "s3cret")
	p, err := NewValkeyProvider(ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "s3cret"})
	if err != nil {
		t.Fatalf("NewValkeyProvider: %v", err)
	}
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := p.Set(ctx, "incident:INC-1", []byte(`{"incident_id":"INC-1"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := p.Get(ctx, "incident:INC-1")
	if err != nil || string(got) != `{"incident_id":"INC-1"}` {
		t.Fatalf("Get = %q, %v", got, err)
	}
	ok, err := p.SetNX(ctx, "incident:INC-1", []byte("x"), 0)
	if err != nil || ok {
		t.Fatalf("SetNX on existing key = %v, %v", ok, err)
	}
	if err := p.Del(ctx, "incident:INC-1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	ok, err = p.SetNX(ctx, "incident:INC-1", []byte("x"), 0)
	if err != nil || !ok {
		t.Fatalf("SetNX after Del = %v, %v", ok, err)
	}
}

func TestValkeyProviderRejectsBadPassword(t *testing.T) {
	srv := startFakeValkey(t, "s3cret")
	p := &ValkeyProvider{cfg: ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "wrong"}}
	p.cfg.defaults()

	_, err := p.Get(context.Background(), "k")
	var serverErr ServerError
	if !errors.As(err, &serverErr) || !strings.Contains(err.Error(), "WRONGPASS") {
		t.Fatalf("expected WRONGPASS server error, got %v", err)
	}
}
