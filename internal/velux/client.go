package velux

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for gateway communication.
const (
	// defaultConnectTimeout is the maximum time for TCP dial plus TLS
	// handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultRequestTimeout is the maximum time to wait for a confirm frame.
	defaultRequestTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for socket writes.
	defaultWriteTimeout = 5 * time.Second

	// readBufferSize is the size of the socket read buffer.
	readBufferSize = 1024

	// notifyQueueSize buffers notification frames between the read loop and
	// the dispatch goroutine. Sized for a full discovery burst.
	notifyQueueSize = 256
)

// TransportConfig holds gateway connection parameters.
type TransportConfig struct {
	// Host is the gateway address.
	Host string

	// Port is the gateway API port. Default: 51200.
	Port int

	// Fingerprint is an optional SHA-256 fingerprint of the gateway
	// certificate (hex, case and colons ignored). When set, the presented
	// certificate must match exactly; when empty, any certificate is
	// accepted (the gateway ships self-signed).
	Fingerprint string

	// ConnectTimeout bounds TCP dial plus TLS handshake. Default: 10s.
	ConnectTimeout time.Duration

	// RequestTimeout bounds the wait for a confirm frame. Default: 10s.
	RequestTimeout time.Duration
}

// Stats holds operational statistics for the transport.
type Stats struct {
	FramesTx     uint64
	FramesRx     uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Connected    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Transport is the framed request/confirm interface the session drives.
// This allows mocking the gateway in tests.
type Transport interface {
	// Call sends a request frame and waits for the confirm with the given
	// command identifier. A gateway error notification received while
	// waiting fails the call.
	Call(ctx context.Context, req Frame, wantCfm uint16) (Frame, error)

	// SetOnNotify registers the callback for unsolicited notification
	// frames. Frames are delivered one at a time, in arrival order.
	SetOnNotify(callback func(Frame))

	// SetOnClosed registers the callback invoked once when the transport
	// dies for any reason other than Close().
	SetOnClosed(callback func(err error))

	// IsConnected reports whether the socket is up.
	IsConnected() bool

	// Stats returns operational counters.
	Stats() Stats

	// Close shuts the transport down. Safe to call multiple times.
	Close() error
}

// Ensure Client implements Transport.
var _ Transport = (*Client)(nil)

// Client is the TLS transport to the gateway.
//
// It owns the socket, runs the read loop, correlates confirm frames to the
// single in-flight request, and dispatches notifications in arrival order
// on a dedicated goroutine.
//
// Thread Safety: all methods are safe for concurrent use; Call serialises
// concurrent requests internally.
type Client struct {
	cfg  TransportConfig
	conn *tls.Conn

	// Request/confirm correlation. One request in flight at a time.
	callMu    sync.Mutex
	pendingMu sync.Mutex
	pending   *pendingCall

	// Notification dispatch (order preserving).
	notifyQueue chan Frame
	onNotify    func(Frame)
	onClosed    func(err error)
	callbackMu  sync.RWMutex
	closedOnce  sync.Once

	// Shutdown coordination.
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional).
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics.
	framesTx     atomic.Uint64
	framesRx     atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
	connected    atomic.Bool
}

type pendingCall struct {
	want uint16
	ch   chan pendingResult
}

type pendingResult struct {
	frame Frame
	err   error
}

// Dial connects to the gateway and starts the read loop.
//
// The TLS configuration accepts the gateway's self-signed certificate;
// when cfg.Fingerprint is set the presented leaf certificate's SHA-256
// fingerprint must match it exactly.
func Dial(ctx context.Context, cfg TransportConfig) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 51200
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			// The gateway ships a self-signed certificate; identity is
			// pinned by fingerprint below, not by chain verification.
			InsecureSkipVerify: true, //nolint:gosec
			// Older gateway firmware negotiates TLS 1.0.
			MinVersion: tls.VersionTLS10,
		},
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	rawConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}
	conn := rawConn.(*tls.Conn)

	if cfg.Fingerprint != "" {
		if err := verifyFingerprint(conn, cfg.Fingerprint); err != nil {
			conn.Close()
			return nil, err
		}
	}

	c := &Client{
		cfg:         cfg,
		conn:        conn,
		notifyQueue: make(chan Frame, notifyQueueSize),
		done:        make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().Unix())
	c.connected.Store(true)

	c.wg.Add(1)
	go c.dispatchLoop()
	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// verifyFingerprint compares the peer's leaf certificate against the pinned
// SHA-256 fingerprint. Case and colon separators in the pin are ignored.
func verifyFingerprint(conn *tls.Conn, pin string) error {
	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return fmt.Errorf("%w: no peer certificate", ErrFingerprintMismatch)
	}

	sum := sha256.Sum256(certs[0].Raw)
	got := hex.EncodeToString(sum[:])
	want := strings.ToLower(strings.ReplaceAll(pin, ":", ""))
	if got != want {
		return fmt.Errorf("%w: presented %s", ErrFingerprintMismatch, got)
	}
	return nil
}

// Call sends a request and waits for its confirm frame.
//
// Requests serialise: a second caller blocks until the first confirm (or
// timeout) resolves. A GW_ERROR_NTF received while waiting fails the call
// with ErrDeviceError.
func (c *Client) Call(ctx context.Context, req Frame, wantCfm uint16) (Frame, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if !c.IsConnected() {
		return Frame{}, ErrNotConnected
	}

	ch := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	c.pending = &pendingCall{want: wantCfm, ch: ch}
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		c.pending = nil
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(ctx, req); err != nil {
		return Frame{}, err
	}

	timeout := c.cfg.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.frame, res.err
	case <-timer.C:
		c.errorsTotal.Add(1)
		return Frame{}, fmt.Errorf("%w: no confirm for 0x%04X after %v", ErrTimeout, req.Command, timeout)
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-c.done:
		return Frame{}, ErrNotConnected
	}
}

// writeFrame encodes and writes one frame with a write deadline.
func (c *Client) writeFrame(ctx context.Context, f Frame) error {
	wire, err := f.Encode()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionFailed, err)
	}

	if _, err := c.conn.Write(wire); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// receiveLoop reads the socket and feeds the SLIP decoder.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	var dec slipDecoder
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		n, err := c.conn.Read(buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			c.errorsTotal.Add(1)
			c.handleDisconnect(err)
			return
		}

		c.lastActivity.Store(time.Now().Unix())

		for _, body := range dec.feed(buf[:n]) {
			frame, err := decodeFrame(body)
			if err != nil {
				c.logError("dropping malformed frame", err)
				c.errorsTotal.Add(1)
				continue
			}
			c.framesRx.Add(1)
			c.routeFrame(frame)
		}
	}
}

// routeFrame delivers a frame to the pending call or the notify queue.
func (c *Client) routeFrame(f Frame) {
	c.pendingMu.Lock()
	pending := c.pending
	if pending != nil && f.Command == pending.want {
		c.pending = nil
		c.pendingMu.Unlock()
		pending.ch <- pendingResult{frame: f}
		return
	}
	if pending != nil && f.Command == cmdErrorNTF {
		// The gateway answers a rejected request with an error
		// notification instead of the confirm.
		c.pending = nil
		c.pendingMu.Unlock()
		code := -1
		if len(f.Data) > 0 {
			code = int(f.Data[0])
		}
		pending.ch <- pendingResult{err: fmt.Errorf("%w: %s", ErrDeviceError, errorNTFText(code))}
		return
	}
	c.pendingMu.Unlock()

	select {
	case c.notifyQueue <- f:
	default:
		// Queue full; dropping is preferable to stalling the read loop.
		c.logError("notify queue full, dropping frame", fmt.Errorf("command 0x%04X", f.Command))
		c.errorsTotal.Add(1)
	}
}

// dispatchLoop delivers notifications one at a time, in arrival order.
// A single goroutine keeps per-node state changes ordered end to end.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.notifyQueue:
			c.callbackMu.RLock()
			callback := c.onNotify
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("notify callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(frame)
				}()
			}
		}
	}
}

// handleDisconnect marks the transport dead and fires the closed callback.
func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.closedOnce.Do(func() {
		c.callbackMu.RLock()
		callback := c.onClosed
		c.callbackMu.RUnlock()
		if callback != nil {
			callback(err)
		}
	})
}

// isClosed returns true if Close has been called.
func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// SetOnNotify registers the notification callback.
func (c *Client) SetOnNotify(callback func(Frame)) {
	c.callbackMu.Lock()
	c.onNotify = callback
	c.callbackMu.Unlock()
}

// SetOnClosed registers the unexpected-close callback.
func (c *Client) SetOnClosed(callback func(err error)) {
	c.callbackMu.Lock()
	c.onClosed = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// logError reports an error to the configured logger, if any.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// IsConnected reports whether the socket is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && !c.isClosed()
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:     c.framesTx.Load(),
		FramesRx:     c.framesRx.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
	}
}

// Close shuts the transport down.
//
// It unblocks any pending call, stops the read and dispatch loops, and
// closes the socket. Always returns nil; closing is best-effort.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
		c.connected.Store(false)

		// Fail a caller stuck waiting for a confirm.
		c.pendingMu.Lock()
		if c.pending != nil {
			c.pending.ch <- pendingResult{err: ErrNotConnected}
			c.pending = nil
		}
		c.pendingMu.Unlock()

		if c.conn != nil {
			c.conn.Close()
		}
		c.wg.Wait()
	})
	return nil
}
