package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// ValkeyConfig holds connection and lease parameters for the Valkey lock.
type ValkeyConfig struct {
	Addr           string
	Username       string
	Password       string
	DB             int
	TLS            bool
	Prefix         string
	TTL            time.Duration
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
	AcquireTimeout time.Duration
}

// ValkeyLocker implements Locker with SET NX PX leases on a Valkey or
// Redis-compatible server so several replicas share one detection lock.
type ValkeyLocker struct {
	cfg    ValkeyConfig
	logger *slog.Logger
}

// NewValkeyLocker pings the server to fail fast on bad credentials or
// connectivity.
func NewValkeyLocker(cfg ValkeyConfig, logger *slog.Logger) (*ValkeyLocker, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	applyValkeyDefaults(&cfg)
	l := &ValkeyLocker{cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := l.Ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return l, nil
}

// Acquire polls SET NX until the lease is granted, the acquire timeout
// elapses or ctx is done. The lease expires after TTL even if the holder
// dies without releasing it.
func (l *ValkeyLocker) Acquire(ctx context.Context, key string) (Release, error) {
	key = l.cfg.Prefix + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.AcquireTimeout)
	defer cancel()

	for {
		ok, err := l.setNX(ctx, key, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockTimeout, err)
			}
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-time.After(l.cfg.RetryInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.releaseNow(key, token) })
	}, nil
}

func (l *ValkeyLocker) releaseNow(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.DialTimeout)
	defer cancel()
	if err := l.release(ctx, key, token); err != nil {
		l.logger.Warn("valkey lock release failed", "key", key, "error", err)
	}
}

// Ping checks connectivity and authentication.
func (l *ValkeyLocker) Ping(ctx context.Context) error {
	reply, err := l.do(ctx, "PING")
	if err != nil {
		return err
	}
	if reply.kind != kindStatus || reply.str != "PONG" {
		return fmt.Errorf("unexpected PING reply %q", reply.str)
	}
	return nil
}

// Close is a no-op; connections are opened per command.
func (l *ValkeyLocker) Close() error { return nil }

func (l *ValkeyLocker) setNX(ctx context.Context, key, token string) (bool, error) {
	ttl := strconv.FormatInt(l.cfg.TTL.Milliseconds(), 10)
	reply, err := l.do(ctx, "SET", key, token, "PX", ttl, "NX")
	if err != nil {
		return false, err
	}
	switch reply.kind {
	case kindStatus:
		return true, nil
	case kindNil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected SET NX reply kind %c", reply.kind)
	}
}

func (l *ValkeyLocker) release(ctx context.Context, key, token string) error {
	_, err := l.do(ctx, "EVAL", releaseScript, "1", key, token)
	return err
}

// do runs one command on a fresh connection, retrying transient network
// errors with exponential backoff.
func (l *ValkeyLocker) do(ctx context.Context, args ...string) (respValue, error) {
	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respValue{}, err
		}
		reply, err := l.roundTrip(ctx, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable(err) {
			return respValue{}, err
		}
		select {
		case <-ctx.Done():
			return respValue{}, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return respValue{}, lastErr
}

func (l *ValkeyLocker) roundTrip(ctx context.Context, args []string) (respValue, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return respValue{}, err
	}
	defer conn.Close()

	rc := newRespConn(conn, l.cfg.ReadTimeout, l.cfg.WriteTimeout)
	if err := l.handshake(rc); err != nil {
		return respValue{}, err
	}
	if err := rc.send(args...); err != nil {
		return respValue{}, err
	}
	return rc.receive()
}

func (l *ValkeyLocker) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout(ctx, l.cfg.DialTimeout)}
	if !l.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", l.cfg.Addr)
	}
	host, _, err := net.SplitHostPort(l.cfg.Addr)
	if err != nil {
		host = l.cfg.Addr
	}
	return tls.DialWithDialer(dialer, "tcp", l.cfg.Addr, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host})
}

func (l *ValkeyLocker) handshake(rc *respConn) error {
	if l.cfg.Password != "" {
		args := []string{"AUTH", l.cfg.Password}
		if l.cfg.Username != "" {
			args = []string{"AUTH", l.cfg.Username, l.cfg.Password}
		}
		if err := rc.expectOK(args...); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if l.cfg.DB > 0 {
		if err := rc.expectOK("SELECT", strconv.Itoa(l.cfg.DB)); err != nil {
			return fmt.Errorf("select db %d: %w", l.cfg.DB, err)
		}
	}
	return nil
}

func applyValkeyDefaults(cfg *ValkeyConfig) {
	if cfg.Prefix == "" {
		cfg.Prefix = "blackbox:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 20 * time.Millisecond
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 3 * time.Second
	}
}

func dialTimeout(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if remaining < d {
			return remaining
		}
	}
	return d
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RESP (v2) framing: only the reply kinds the lock needs.

type respKind byte

const (
	kindStatus  respKind = '+'
	kindInteger respKind = ':'
	kindBulk    respKind = '$'
	kindNil     respKind = '_'
)

type respValue struct {
	kind respKind
	str  string
}

type respConn struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newRespConn(conn net.Conn, readTimeout, writeTimeout time.Duration) *respConn {
	return &respConn{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (c *respConn) send(args ...string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.w, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(c.w, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return c.w.Flush()
}

func (c *respConn) receive() (respValue, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respValue{}, err
	}
	line, err := c.line()
	if err != nil {
		return respValue{}, err
	}
	if line == "" {
		return respValue{}, errors.New("empty RESP reply")
	}
	body := line[1:]
	switch line[0] {
	case '+':
		return respValue{kind: kindStatus, str: body}, nil
	case '-':
		return respValue{}, fmt.Errorf("valkey: %s", body)
	case ':':
		return respValue{kind: kindInteger, str: body}, nil
	case '$':
		size, err := strconv.Atoi(body)
		if err != nil {
			return respValue{}, fmt.Errorf("bad bulk length %q", body)
		}
		if size < 0 {
			return respValue{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return respValue{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respValue{}, errors.New("bulk string missing CRLF")
		}
		return respValue{kind: kindBulk, str: string(buf[:size])}, nil
	case '_':
		return respValue{kind: kindNil}, nil
	default:
		return respValue{}, fmt.Errorf("unexpected RESP prefix %q", line[0])
	}
}

func (c *respConn) expectOK(args ...string) error {
	if err := c.send(args...); err != nil {
		return err
	}
	reply, err := c.receive()
	if err != nil {
		return err
	}
	if reply.kind != kindStatus || !strings.EqualFold(reply.str, "OK") {
		return fmt.Errorf("unexpected reply %q", reply.str)
	}
	return nil
}

func (c *respConn) line() (string, error) {
	s, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

var _ Locker = (*ValkeyLocker)(nil)
