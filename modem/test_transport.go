package modem

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// FakeClock is a Clock that only moves when it is advanced. Sleep advances
// it by the requested duration instead of blocking.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock set to an arbitrary fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2025, time.November, 23, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.Advance(d)
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestTransport is a test helper that simulates a SIM800 on a FakeClock.
//
// Replies are scripted per command: when a write contains the text of a
// rule, the rule's reply becomes readable after its delay. A Read with
// nothing to deliver advances the clock by the read timeout, the way a
// serial port blocks for its timeout, so waits run their full course in
// virtual time without sleeping.
type TestTransport struct {
	mu          sync.Mutex
	clock       *FakeClock
	readTimeout time.Duration
	byteTime    time.Duration
	rules       []*replyRule
	pending     []timedByte
	writes      []string
	stream      []byte
	readErr     error
	writeErr    error
	closed      bool
}

type replyRule struct {
	match string
	reply string
	delay time.Duration
	// left is the number of remaining uses; negative means unlimited
	left int
}

type timedByte struct {
	at time.Time
	b  byte
}

// NewTestTransport creates a new test transport with its own clock.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		clock:       NewFakeClock(),
		readTimeout: waitPollInterval,
		byteTime:    100 * time.Microsecond,
	}
}

// Clock returns the virtual clock the transport advances.
func (t *TestTransport) Clock() *FakeClock {
	return t.clock
}

// Dial implements Dialer by returning the transport itself.
func (t *TestTransport) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reply answers every write containing match with reply.
func (t *TestTransport) Reply(match, reply string) *TestTransport {
	return t.addRule(match, reply, 0, -1)
}

// ReplyAfter answers every write containing match with reply, delay after
// the write.
func (t *TestTransport) ReplyAfter(match string, delay time.Duration, reply string) *TestTransport {
	return t.addRule(match, reply, delay, -1)
}

// ReplyOnce answers only the next write containing match. Once-rules take
// precedence over permanent ones while they last.
func (t *TestTransport) ReplyOnce(match, reply string) *TestTransport {
	return t.addRule(match, reply, 0, 1)
}

func (t *TestTransport) addRule(match, reply string, delay time.Duration, uses int) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, &replyRule{match: match, reply: reply, delay: delay, left: uses})
	return t
}

// Feed makes data readable delay from now, independent of any write.
func (t *TestTransport) Feed(delay time.Duration, data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schedule(t.clock.Now().Add(delay), data)
}

// Stream makes the transport deliver pattern over and over whenever no
// scripted byte is pending.
func (t *TestTransport) Stream(pattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream = []byte(pattern)
}

// FailReads makes every Read return err without data.
func (t *TestTransport) FailReads(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = err
}

// FailWrites makes every Write return err. Failed writes are still recorded
// but trigger no reply.
func (t *TestTransport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Writes returns every write in order.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Count returns how many writes contained s.
func (t *TestTransport) Count(s string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.writes {
		if strings.Contains(w, s) {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TestTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = d
	return nil
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	t.writes = append(t.writes, string(p))
	if t.writeErr != nil {
		return 0, t.writeErr
	}

	if rule := t.match(string(p)); rule != nil {
		t.schedule(t.clock.Now().Add(rule.delay), rule.reply)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.readErr != nil {
		return 0, t.readErr
	}
	if len(p) == 0 {
		return 0, nil
	}

	now := t.clock.Now()
	if len(t.pending) > 0 {
		next := t.pending[0]
		if wait := next.at.Sub(now); wait > 0 {
			if wait >= t.readTimeout {
				t.clock.Advance(t.readTimeout)
				return 0, nil
			}
			t.clock.Advance(wait)
		}
		p[0] = next.b
		t.pending = t.pending[1:]
		t.clock.Advance(t.byteTime)
		return 1, nil
	}

	if len(t.stream) > 0 {
		p[0] = t.stream[0]
		t.stream = append(t.stream[1:], t.stream[0])
		t.clock.Advance(t.byteTime)
		return 1, nil
	}

	t.clock.Advance(t.readTimeout)
	return 0, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// match returns the rule answering w. Caller must hold t.mu.
func (t *TestTransport) match(w string) *replyRule {
	var permanent *replyRule
	for _, r := range t.rules {
		if r.left == 0 || !strings.Contains(w, r.match) {
			continue
		}
		if r.left > 0 {
			r.left--
			return r
		}
		if permanent == nil {
			permanent = r
		}
	}
	return permanent
}

// schedule queues data behind whatever is already pending. Caller must hold t.mu.
func (t *TestTransport) schedule(at time.Time, data string) {
	if n := len(t.pending); n > 0 && t.pending[n-1].at.After(at) {
		at = t.pending[n-1].at
	}
	for i := 0; i < len(data); i++ {
		t.pending = append(t.pending, timedByte{at: at, b: data[i]})
	}
}
