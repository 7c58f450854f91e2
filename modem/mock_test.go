package modem_test

import (
	"time"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/sim800/at"
	"i4.energy/across/sim800/modem"
)

// MockSequenceBuilder scripts a MockTransport as a strict conversation: each
// expected Write queues its reply on a simulated wire, and Reads drain that
// wire one byte at a time, advancing the clock by the read timeout whenever
// the wire is empty.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	clock     *modem.FakeClock
	timeout   time.Duration
	wire      []byte
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport, clock *modem.FakeClock) *MockSequenceBuilder {
	b := &MockSequenceBuilder{
		transport: transport,
		clock:     clock,
		timeout:   50 * time.Millisecond,
		calls:     []any{},
	}
	transport.EXPECT().SetReadTimeout(gomock.Any()).DoAndReturn(func(d time.Duration) error {
		b.timeout = d
		return nil
	}).AnyTimes()
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(b.read).AnyTimes()
	return b
}

func (b *MockSequenceBuilder) read(p []byte) (int, error) {
	if len(b.wire) == 0 {
		b.clock.Advance(b.timeout)
		return 0, nil
	}
	p[0] = b.wire[0]
	b.wire = b.wire[1:]
	return 1, nil
}

// Pending returns the bytes queued on the wire but not read yet.
func (b *MockSequenceBuilder) Pending() string {
	return string(b.wire)
}

// Command expects cmd to be written next and queues reply.
func (b *MockSequenceBuilder) Command(cmd, reply string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd)).DoAndReturn(func(p []byte) (int, error) {
			b.wire = append(b.wire, reply...)
			return len(p), nil
		}),
	)
	return b
}

// CommandDo is Command with a hook that runs when cmd is written.
func (b *MockSequenceBuilder) CommandDo(cmd, reply string, hook func()) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd)).DoAndReturn(func(p []byte) (int, error) {
			hook()
			b.wire = append(b.wire, reply...)
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command(at.CmdAt, "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Command(at.CmdEchoOff, "ATE0\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.Command(at.CmdSetTextMode, "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) CharsetGSM() *MockSequenceBuilder {
	return b.Command(at.CmdCharsetGSM, "\r\nOK\r\n")
}

// Init scripts the full successful initialization.
func (b *MockSequenceBuilder) Init() *MockSequenceBuilder {
	return b.AT().EchoOff().SMSTextMode().CharsetGSM()
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
