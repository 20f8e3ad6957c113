package relay

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

const DefaultMaxRetries = 3

const idleCheckTimeout = time.Millisecond

type ErrorListener func(err error)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type TransportConfig struct {
	// Endpoint is the collector's host:port.
	Endpoint string
	// MaxRetries bounds the reconnect-and-resend cycles spent on one payload.
	MaxRetries   int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// NewBackOff supplies the delay policy between reconnect attempts of one Send.
	// Defaults to an exponential policy starting at 100ms and capped at 5s.
	NewBackOff func() backoff.BackOff
	// Dial defaults to a net.Dialer.
	Dial    DialFunc
	Logger  *slog.Logger
	Metrics *Metrics
	ErrorListener
}

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Transport owns the single connection to the collector. A connection that fails is
// closed and replaced, never reused. Transport is safe for concurrent use; sends are
// serialized.
type Transport struct {
	config TransportConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

func NewTransport(config TransportConfig) (*Transport, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.NewBackOff == nil {
		config.NewBackOff = defaultBackOff
	}
	if config.Dial == nil {
		dialer := &net.Dialer{Timeout: config.DialTimeout}
		config.Dial = dialer.DialContext
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		config: config,
		logger: logger.With("endpoint", config.Endpoint),
	}, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// State reports whether a connection is currently held.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return Disconnected
	}
	return Connected
}

// Send writes payload to the collector. When the connection turns out to be broken it is
// replaced and the whole payload written again, up to MaxRetries times. Exhausting the
// retries returns an error marked ErrBatchDropped. Any other failure, including failing
// to connect before a broken connection was seen, returns an error marked ErrSendFailed
// without retrying.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	reconnecting := false
	if t.conn != nil && t.peerClosed() {
		t.logger.Debug("collector closed idle connection, reconnecting")
		t.discard()
		t.config.Metrics.reconnect()
		reconnecting = true
	}

	b := t.config.NewBackOff()
	retries := 0
	for {
		err := t.attempt(ctx, payload, reconnecting)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errBrokenConnection) {
			return err
		}
		reconnecting = true

		wait := b.NextBackOff()
		if retries >= t.config.MaxRetries || wait == backoff.Stop {
			err = errors.Mark(errors.Wrapf(err, "gave up batch after %d retries", retries), ErrBatchDropped)
			t.reportError(err)
			return err
		}

		retries++
		t.logger.Debug("connection broken, reconnecting", "retry", retries, "wait", wait, "error", err.Error())
		if err := sleep(ctx, wait); err != nil {
			return t.fail(errors.Wrap(err, "interrupted while reconnecting"))
		}
		t.config.Metrics.reconnect()
	}
}

// attempt performs one connect-if-needed and write. Broken connections, and dial failures
// while reconnecting, are marked errBrokenConnection so that Send retries them.
func (t *Transport) attempt(ctx context.Context, payload []byte, reconnecting bool) error {
	if t.conn == nil {
		conn, err := t.config.Dial(ctx, "tcp", t.config.Endpoint)
		if err != nil {
			err = errors.Wrap(err, "failed to connect")
			if reconnecting {
				return errors.Mark(err, errBrokenConnection)
			}
			return t.fail(err)
		}
		t.conn = conn
		t.logger.Debug("connected")
	}

	if t.config.WriteTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); err != nil {
			t.discard()
			return t.fail(errors.Wrap(err, "failed to set write deadline"))
		}
	}

	if _, err := t.conn.Write(payload); err != nil {
		t.discard()
		if IsBrokenConnection(err) {
			return errors.Mark(errors.Wrap(err, "failed to write"), errBrokenConnection)
		}
		return t.fail(errors.Wrap(err, "failed to write"))
	}
	return nil
}

// peerClosed polls the idle connection for a pending close. The collector never writes, so
// anything other than a timeout means the connection is gone. The deadline must lie in the
// future: an already expired one fails the read before the socket is looked at.
func (t *Transport) peerClosed() bool {
	if err := t.conn.SetReadDeadline(time.Now().Add(idleCheckTimeout)); err != nil {
		return true
	}
	var buf [1]byte
	_, err := t.conn.Read(buf[:])
	if err == nil {
		_ = t.conn.SetReadDeadline(time.Time{})
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return t.conn.SetReadDeadline(time.Time{}) != nil
	}
	return true
}

// fail marks err as ErrSendFailed and reports it.
func (t *Transport) fail(err error) error {
	err = errors.Mark(err, ErrSendFailed)
	t.reportError(err)
	return err
}

// Close releases the current connection. The next Send connects again.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *Transport) discard() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *Transport) reportError(err error) {
	if t.config.ErrorListener != nil {
		t.config.ErrorListener(err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
