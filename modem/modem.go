package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/sim800/at"
)

const (
	// waitPollInterval is the per-byte read timeout while waiting for a marker.
	waitPollInterval = 50 * time.Millisecond

	commandTimeout = 1 * time.Second
	dialTimeout    = 10 * time.Second
	hangUpTimeout  = 3 * time.Second
)

// Modem drives a SIM800 cellular modem over a Transport using AT commands.
//
// Every operation is a fixed sequence of steps, each of which writes a
// command and blocks until an expected marker shows up in the modem output
// or the step's timeout elapses. Operations are serialized: a Modem may be
// shared between goroutines, but only one operation talks to the wire at
// a time.
type Modem struct {
	// mu serializes operations; it guards the wire and the scan buffer.
	mu sync.Mutex
	// transport provides the physical connection to the modem
	transport Transport
	// clock measures step deadlines
	clock Clock
	// logger receives command traces
	logger *slog.Logger
	// bootDelay is slept before the first command of Init
	bootDelay time.Duration
	// closed is set once by Close. In-flight waits observe it and stop.
	closed atomic.Bool
	// readTimeout is the last timeout applied with SetReadTimeout
	readTimeout time.Duration
	// scan backs buf, the buffer of the wait in progress
	scan [ScanBufferSize]byte
	buf  boundedBuffer
}

// stepMode tells runSteps whether a failed step ends the sequence.
type stepMode int

const (
	// required steps stop the sequence and report their failure.
	required stepMode = iota
	// advisory steps are logged on failure and the sequence goes on.
	advisory
)

// step is one command of an operation with the marker that acknowledges it.
type step struct {
	cmd     string
	marker  string
	timeout time.Duration
	mode    stepMode
}

// New creates a Modem with the given configuration. It opens the transport
// with the configured Dialer and runs Init, bounded by the configured init
// timeout.
//
// Returns an error if the transport connection or modem initialization
// fails. On initialization failure the transport is closed.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		clock:     config.clock,
		logger:    config.logger,
		bootDelay: config.bootDelay,
	}

	initCtx, cancel := context.WithTimeout(ctx, config.initTimeout)
	defer cancel()

	if err := m.Init(initCtx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// Close releases the transport. An operation in progress stops at its next
// poll and returns ErrAlreadyClosed. After Close the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// String implements fmt.Stringer for log output.
func (m *Modem) String() string {
	if m.closed.Load() {
		return "sim800(closed)"
	}
	return "sim800"
}

// Init runs the session setup: liveness check, echo off and SMS text mode.
// The GSM character set is selected on a best-effort basis; its failure is
// ignored.
func (m *Modem) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}

	if m.bootDelay > 0 {
		m.logger.Debug("waiting for modem boot", "delay", m.bootDelay)
		m.clock.Sleep(m.bootDelay)
	}

	return m.runSteps(ctx,
		step{cmd: at.CmdAt, marker: at.OK, timeout: commandTimeout},
		step{cmd: at.CmdEchoOff, marker: at.OK, timeout: commandTimeout},
		step{cmd: at.CmdSetTextMode, marker: at.OK, timeout: commandTimeout},
		step{cmd: at.CmdCharsetGSM, marker: at.OK, timeout: commandTimeout, mode: advisory},
	)
}

// Call dials number as a voice call. It returns once the modem accepted the
// dial command; it does not wait for the call to be established or answered.
// number may only hold digits and the dial characters + * # and comma.
func (m *Modem) Call(ctx context.Context, number string) error {
	if err := checkNumber(number); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}

	return m.sendWait(ctx, at.Dial(number), at.OK, dialTimeout)
}

// HangUp ends the current call.
func (m *Modem) HangUp(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}

	return m.sendWait(ctx, at.CmdHangUp, at.OK, hangUpTimeout)
}

// ready reports whether the modem can run an operation. Caller must hold m.mu.
func (m *Modem) ready() error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if m.transport == nil {
		return ErrNotInitialized
	}
	return nil
}

// runSteps executes steps in order and returns the failure of the first
// required step that fails. Advisory failures are logged and skipped,
// except when the context ended or the modem was closed.
func (m *Modem) runSteps(ctx context.Context, steps ...step) error {
	for _, s := range steps {
		err := m.sendWait(ctx, s.cmd, s.marker, s.timeout)
		if err == nil {
			continue
		}
		if s.mode == advisory && errors.Is(err, ErrTimeout) {
			m.logger.Debug("advisory step failed", "cmd", trimCommand(s.cmd), "error", err)
			continue
		}
		return err
	}
	return nil
}

// sendWait writes cmd and waits for marker.
func (m *Modem) sendWait(ctx context.Context, cmd, marker string, timeout time.Duration) error {
	m.write([]byte(cmd))
	return m.expect(ctx, cmd, marker, timeout)
}

// expect waits for marker and turns a failed wait into a CommandError
// attributed to cmd, the command that provoked the awaited output.
func (m *Modem) expect(ctx context.Context, cmd, marker string, timeout time.Duration) error {
	start := m.clock.Now()
	err := m.waitFor(ctx, marker, timeout)
	elapsed := m.clock.Now().Sub(start)
	if err == nil {
		m.logger.Debug("marker found", "cmd", trimCommand(cmd), "marker", marker, "elapsed", elapsed)
		return nil
	}
	if errors.Is(err, ErrAlreadyClosed) {
		return err
	}

	m.logger.Debug("marker not found",
		"cmd", trimCommand(cmd),
		"marker", marker,
		"elapsed", elapsed,
		"result", at.LastResult(m.buf.bytes()),
		"error", err,
	)
	return &CommandError{
		Command: trimCommand(cmd),
		Marker:  marker,
		Timeout: timeout,
		Err:     err,
	}
}

// waitFor polls the transport one byte at a time until marker appears in the
// bytes received since the call began, or until timeout has elapsed.
//
// A read that yields no byte, whether it timed out or failed, only costs one
// poll cycle; the deadline is fixed when the wait starts.
func (m *Modem) waitFor(ctx context.Context, marker string, timeout time.Duration) error {
	m.buf = newBoundedBuffer(m.scan[:])
	start := m.clock.Now()

	for m.clock.Now().Sub(start) < timeout {
		if err := m.interrupted(ctx); err != nil {
			return err
		}
		c, ok := m.receiveByte(waitPollInterval)
		if !ok {
			continue
		}
		m.buf.push(c)
		if m.buf.contains(marker) {
			return nil
		}
	}
	return ErrTimeout
}

// interrupted reports why a wait has to stop before its deadline.
func (m *Modem) interrupted(ctx context.Context) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	return ctx.Err()
}

// write transmits data. A failed write is logged and otherwise treated like
// a successful one: the step that follows times out if the modem never got
// the command.
func (m *Modem) write(data []byte) {
	if _, err := m.transport.Write(data); err != nil {
		m.logger.Warn("write to modem failed", "error", err, "bytes", len(data))
	}
}

// receiveByte reads a single byte, blocking for at most timeout.
func (m *Modem) receiveByte(timeout time.Duration) (byte, bool) {
	if m.readTimeout != timeout {
		if err := m.transport.SetReadTimeout(timeout); err != nil {
			m.logger.Warn("set read timeout failed", "error", err, "timeout", timeout)
		} else {
			m.readTimeout = timeout
		}
	}

	var b [1]byte
	n, err := m.transport.Read(b[:])
	if n == 1 {
		return b[0], true
	}
	if err != nil {
		// A failing port returns at once; keep the poll cadence.
		m.clock.Sleep(timeout)
	}
	return 0, false
}
