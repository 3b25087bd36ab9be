package mbus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Default timeouts for gateway communication.
const (
	// defaultDialTimeout is the maximum time to wait for the TCP connect.
	defaultDialTimeout = 5 * time.Second

	// defaultResponseTimeout is the base wait for one answer frame.
	defaultResponseTimeout = time.Second

	// bitsPerChar is start + 8 data + parity + stop.
	bitsPerChar = 11

	// maxFrameChars is the longest frame a slave can send.
	maxFrameChars = maxLongData + 9
)

// Dialer opens the transport to a gateway. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// MasterConfig holds gateway connection settings.
type MasterConfig struct {
	// Address is the gateway "host:port".
	Address string

	// DialTimeout bounds the connect. Default: 5 seconds.
	DialTimeout time.Duration

	// ResponseTimeout is the wait for one answer frame. Default: 1 second.
	ResponseTimeout time.Duration
}

// ResponseTimeout returns the answer wait for a bus running at
// bitsPerSecond: base plus offset plus the time to transfer the longest
// possible frame. A zero rate adds no transfer time.
func ResponseTimeout(base, offset time.Duration, bitsPerSecond int) time.Duration {
	t := base + offset
	if bitsPerSecond > 0 {
		t += time.Duration(maxFrameChars*bitsPerChar) * time.Second / time.Duration(bitsPerSecond)
	}
	return t
}

// Master is the M-Bus master side of a TCP gateway connection.
//
// Thread Safety: requests are serialised; the bus carries one exchange at
// a time.
type Master struct {
	cfg  MasterConfig
	conn net.Conn
	rd   *bufio.Reader

	mu     sync.Mutex
	closed bool

	logger Logger
}

// Open dials the gateway.
//
// Parameters:
//   - ctx: Context for the connect
//   - dialer: Transport dialer; nil uses net.Dialer
//   - cfg: Gateway address and timeouts
//
// Returns:
//   - *Master: Connected master ready for requests
//   - error: ErrConnectionFailed wrapping the dial error
func Open(ctx context.Context, dialer Dialer, cfg MasterConfig) (*Master, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Address, err)
	}
	return NewMaster(conn, cfg), nil
}

// NewMaster wraps an established connection.
func NewMaster(conn net.Conn, cfg MasterConfig) *Master {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	return &Master{
		cfg:    cfg,
		conn:   conn,
		rd:     bufio.NewReaderSize(conn, maxFrameChars),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for frame-level diagnostics.
func (m *Master) SetLogger(logger Logger) {
	m.logger = logger
}

// Close closes the gateway connection. Safe to call more than once.
func (m *Master) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.conn.Close()
}

// RequestUserData sends REQ_UD2 to a primary address and returns the
// RSP_UD answer.
//
// Returns ErrNoResponse when nothing answered, ErrInvalidFrame (or
// ErrChecksum) for garbled answers and ErrUnexpectedFrame for a valid
// frame that is not RSP_UD.
func (m *Master) RequestUserData(ctx context.Context, address byte) (Frame, error) {
	f, err := m.exchange(ctx, ShortFrame(CtrlReqUd2, address))
	if err != nil {
		return Frame{}, err
	}
	if !f.IsUserDataResponse() {
		return Frame{}, fmt.Errorf("%w: %s frame C=0x%02X from address %d", ErrUnexpectedFrame, f.Kind, f.Control, address)
	}
	return f, nil
}

// Deselect sends SND_NKE to the network layer address, releasing any
// slave left selected by an earlier search. A missing ACK is not an error.
func (m *Master) Deselect(ctx context.Context) error {
	_, err := m.exchange(ctx, ShortFrame(CtrlSndNke, AddrNetworkLayer))
	if err == nil || errors.Is(err, ErrNoResponse) || errors.Is(err, ErrInvalidFrame) {
		return nil
	}
	return err
}

// ProbeResult is the outcome of selecting by secondary address mask.
type ProbeResult int

const (
	// ProbeNone means no slave matched.
	ProbeNone ProbeResult = iota
	// ProbeSingle means exactly one slave matched and answered.
	ProbeSingle
	// ProbeCollision means several slaves answered at once.
	ProbeCollision
)

// String returns the probe result name.
func (p ProbeResult) String() string {
	switch p {
	case ProbeNone:
		return "none"
	case ProbeSingle:
		return "single"
	case ProbeCollision:
		return "collision"
	default:
		return fmt.Sprintf("ProbeResult(%d)", int(p))
	}
}

// Probe selects slaves matching mask and, if one acknowledged, reads its
// user data through the network layer address.
func (m *Master) Probe(ctx context.Context, mask Mask) (ProbeResult, Frame, error) {
	ack, err := m.exchange(ctx, LongFrame(CtrlSndUd, AddrNetworkLayer, CISelect, mask.Encode()))
	switch {
	case errors.Is(err, ErrNoResponse):
		return ProbeNone, Frame{}, nil
	case errors.Is(err, ErrInvalidFrame):
		return ProbeCollision, Frame{}, nil
	case err != nil:
		return ProbeNone, Frame{}, err
	case ack.Kind != FrameAck:
		return ProbeCollision, Frame{}, nil
	}

	f, err := m.RequestUserData(ctx, AddrNetworkLayer)
	switch {
	case err == nil:
		return ProbeSingle, f, nil
	case errors.Is(err, ErrInvalidFrame), errors.Is(err, ErrUnexpectedFrame):
		return ProbeCollision, Frame{}, nil
	case errors.Is(err, ErrNoResponse):
		// Acknowledged the selection but went quiet; nothing to record.
		return ProbeNone, Frame{}, nil
	default:
		return ProbeNone, Frame{}, err
	}
}

// WildcardSearch finds every slave matching mask by selecting with
// progressively narrower ID masks. Each F digit of the ID is expanded to
// 0-9 only when that prefix collides. found is called once per slave.
//
// Collisions that persist with a fully specified ID are logged and
// skipped. The search stops with ctx.Err() once ctx is done.
func (m *Master) WildcardSearch(ctx context.Context, mask Mask, found func(Frame)) error {
	return m.searchFrom(ctx, mask, 0, found)
}

func (m *Master) searchFrom(ctx context.Context, mask Mask, pos int, found func(Frame)) error {
	pos = nextWildcard(mask, pos)
	if pos < 0 {
		// Fully specified ID: a single probe decides.
		return m.probeOne(ctx, mask, found)
	}

	for d := byte(0); d <= 9; d++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		candidate := mask.withDigit(pos, d)
		res, f, err := m.Probe(ctx, candidate)
		if err != nil {
			return err
		}

		switch res {
		case ProbeSingle:
			found(f)
		case ProbeCollision:
			if nextWildcard(candidate, pos+1) < 0 {
				m.logger.Warn("unresolvable secondary address collision", "mask", candidate.String())
				continue
			}
			if err := m.searchFrom(ctx, candidate, pos+1, found); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Master) probeOne(ctx context.Context, mask Mask, found func(Frame)) error {
	res, f, err := m.Probe(ctx, mask)
	if err != nil {
		return err
	}
	switch res {
	case ProbeSingle:
		found(f)
	case ProbeCollision:
		m.logger.Warn("unresolvable secondary address collision", "mask", mask.String())
	}
	return nil
}

func nextWildcard(mask Mask, from int) int {
	for i := from; i < idDigits; i++ {
		if mask.ID[i] == wildcardDigit {
			return i
		}
	}
	return -1
}

// exchange writes req and reads one answer frame within the response
// timeout. Cancelling ctx interrupts a blocked read or write.
func (m *Master) exchange(ctx context.Context, req Frame) (Frame, error) {
	out, err := req.Encode()
	if err != nil {
		return Frame{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Frame{}, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	deadline := time.Now().Add(m.cfg.ResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := m.conn.SetDeadline(deadline); err != nil {
		return Frame{}, fmt.Errorf("set deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		m.conn.SetDeadline(time.Now()) //nolint:errcheck // best-effort interrupt
	})
	defer stop()

	if _, err := m.conn.Write(out); err != nil {
		return Frame{}, m.ioError(ctx, "write", err)
	}

	f, err := ReadFrame(m.rd)
	if err != nil {
		if errors.Is(err, ErrInvalidFrame) {
			m.logger.Debug("invalid frame from bus", "request_address", req.Address, "error", err)
			m.discardPending()
			return Frame{}, err
		}
		return Frame{}, m.ioError(ctx, "read", err)
	}
	return f, nil
}

// ioError classifies a transport error. Caller holds m.mu.
func (m *Master) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		// A half-read frame must not bleed into the next exchange.
		m.rd.Reset(m.conn)
		return ErrNoResponse
	}
	return fmt.Errorf("%s: %w", op, err)
}

// discardPending drops whatever is already buffered after a garbled frame.
func (m *Master) discardPending() {
	if n := m.rd.Buffered(); n > 0 {
		m.rd.Discard(n) //nolint:errcheck // n bytes are buffered
	}
}
