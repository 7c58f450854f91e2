package modem_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/sim800/at"
	"i4.energy/across/sim800/modem"
)

// replyInit scripts the answers to a successful Init.
func replyInit(tr *modem.TestTransport) *modem.TestTransport {
	return tr.
		ReplyOnce(at.CmdAt, "\r\nOK\r\n").
		ReplyOnce(at.CmdEchoOff, "ATE0\r\r\nOK\r\n").
		ReplyOnce(at.CmdSetTextMode, "\r\nOK\r\n").
		ReplyOnce(at.CmdCharsetGSM, "\r\nOK\r\n")
}

// newTestModem returns an initialized modem on tr. Writes made during
// initialization are part of tr.Writes().
func newTestModem(t *testing.T, tr *modem.TestTransport) *modem.Modem {
	t.Helper()

	replyInit(tr)
	config, err := modem.NewConfigBuilder().
		WithDialer(tr).
		WithClock(tr.Clock()).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// writesAfter returns the writes made after the first skip ones.
func writesAfter(tr *modem.TestTransport, skip int) []string {
	w := tr.Writes()
	if skip > len(w) {
		return nil
	}
	return w[skip:]
}

func TestModemNew(t *testing.T) {
	t.Run("Initialization Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		clock := modem.NewFakeClock()

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			NewMockSequence(mockTransport, clock).Init().Build(),
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithClock(clock).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m == nil {
			t.Fatal("New() should return valid modem on success")
		}

		mockTransport.EXPECT().Close().Return(nil)
		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Liveness failure stops before echo off", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		clock := modem.NewFakeClock()

		// Any write other than AT fails the test.
		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			NewMockSequence(mockTransport, clock).Command(at.CmdAt, "\r\nERROR\r\n").Build(),
			[]any{
				mockTransport.EXPECT().Close().Return(nil),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithClock(clock).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when error occurs")
		}

		var cmdErr *modem.CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("expected a CommandError, got: %T", err)
		}
		if cmdErr.Command != "AT" || cmdErr.Marker != at.OK {
			t.Errorf("unexpected failing step: %+v", cmdErr)
		}
	})

	t.Run("Echo off failure stops before text mode", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Reply(at.CmdAt, "\r\nOK\r\n")

		config, err := modem.NewConfigBuilder().WithDialer(tr).WithClock(tr.Clock()).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		_, err = modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
		if n := tr.Count(at.CmdSetTextMode); n != 0 {
			t.Errorf("text mode written %d times after echo off failed", n)
		}
		if !tr.Closed() {
			t.Error("transport should be closed after failed initialization")
		}
	})

	t.Run("Character set failure is ignored", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Reply(at.CmdAt, "\r\nOK\r\n").
			Reply(at.CmdEchoOff, "\r\nOK\r\n").
			Reply(at.CmdSetTextMode, "\r\nOK\r\n").
			Reply(at.CmdCharsetGSM, "\r\nERROR\r\n")

		config, err := modem.NewConfigBuilder().WithDialer(tr).WithClock(tr.Clock()).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer m.Close()

		want := []string{at.CmdAt, at.CmdEchoOff, at.CmdSetTextMode, at.CmdCharsetGSM}
		if got := tr.Writes(); !slices.Equal(got, want) {
			t.Errorf("writes = %q, want %q", got, want)
		}
	})

	t.Run("Boot delay precedes the first command", func(t *testing.T) {
		tr := replyInit(modem.NewTestTransport())
		start := tr.Clock().Now()

		config, err := modem.NewConfigBuilder().
			WithDialer(tr).
			WithClock(tr.Clock()).
			WithBootDelay(time.Second).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer m.Close()

		if elapsed := tr.Clock().Now().Sub(start); elapsed < time.Second {
			t.Errorf("init took %v, want at least the boot delay", elapsed)
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		dialErr := errors.New("connection failed")
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, dialErr)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if !errors.Is(err, dialErr) {
			t.Errorf("expected dialer error, got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when dialer fails")
		}
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		m, err := modem.New(context.Background(), modem.Config{})
		if !errors.Is(err, modem.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer from New(), got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when no dialer provided")
		}
	})

	t.Run("ErrNotInitialized on nil transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		_, err = modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized from New(), got: %v", err)
		}
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Returns transport error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		clock := modem.NewFakeClock()

		closeError := errors.New("transport close failed")
		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			NewMockSequence(mockTransport, clock).Init().Build(),
			[]any{
				mockTransport.EXPECT().Close().Return(closeError),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithClock(clock).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != closeError {
			t.Errorf("expected transport error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)

		if err := m.Close(); err != nil {
			t.Errorf("first close should succeed, got error: %v", err)
		}
		if !tr.Closed() {
			t.Error("transport should be closed")
		}
		if err := m.Close(); err != modem.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed on second close, got: %v", err)
		}
	})

	t.Run("Operations fail after close", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		m.Close()
		before := len(tr.Writes())

		ctx := context.Background()
		resp := make([]byte, 16)
		_, getErr := m.HTTPGet(ctx, "http://example.com", resp)
		_, postErr := m.HTTPPost(ctx, "http://example.com", "text/plain", []byte("x"), resp)
		errs := []error{
			m.Init(ctx),
			m.Call(ctx, "12345"),
			m.HangUp(ctx),
			m.SendSMS(ctx, "12345", "hi"),
			m.SetupBearer(ctx, "internet", "", ""),
			getErr,
			postErr,
		}
		for i, err := range errs {
			if !errors.Is(err, modem.ErrAlreadyClosed) {
				t.Errorf("operation %d: expected ErrAlreadyClosed, got: %v", i, err)
			}
		}
		if w := writesAfter(tr, before); len(w) != 0 {
			t.Errorf("closed modem wrote %q", w)
		}
	})
}

func TestWaitForMarker(t *testing.T) {
	const hangUpTimeout = 3 * time.Second

	t.Run("Succeeds when the marker arrives before the timeout", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.ReplyAfter(at.CmdHangUp, 2*time.Second, "\r\nOK\r\n")

		start := tr.Clock().Now()
		if err := m.HangUp(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		elapsed := tr.Clock().Now().Sub(start)
		if elapsed < 2*time.Second || elapsed >= hangUpTimeout {
			t.Errorf("HangUp returned after %v, want between 2s and %v", elapsed, hangUpTimeout)
		}
	})

	t.Run("Does not succeed on a partial marker", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.Feed(100*time.Millisecond, "\r\nO")
		tr.Feed(2500*time.Millisecond, "K\r\n")

		start := tr.Clock().Now()
		if err := m.HangUp(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := tr.Clock().Now().Sub(start); elapsed < 2500*time.Millisecond {
			t.Errorf("HangUp returned after %v, before the marker was complete", elapsed)
		}
	})

	t.Run("Marker may appear anywhere in the output", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.Reply(at.CmdHangUp, "RING\r\n\r\nNO CARRIER\r\n\r\nOK\r\n")

		if err := m.HangUp(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Times out no earlier than the timeout", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.Reply(at.CmdHangUp, "\r\nERROR\r\n")

		start := tr.Clock().Now()
		err := m.HangUp(context.Background())
		elapsed := tr.Clock().Now().Sub(start)

		if !errors.Is(err, modem.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got: %v", err)
		}
		if elapsed < hangUpTimeout || elapsed > hangUpTimeout+50*time.Millisecond {
			t.Errorf("timed out after %v, want %v within one poll interval", elapsed, hangUpTimeout)
		}

		var cmdErr *modem.CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("expected a CommandError, got: %T", err)
		}
		if cmdErr.Command != "ATH" || cmdErr.Timeout != hangUpTimeout {
			t.Errorf("unexpected failing step: %+v", cmdErr)
		}
		if !strings.Contains(err.Error(), "ATH") {
			t.Errorf("error should name the command: %v", err)
		}
	})

	t.Run("Read failures neither shorten nor extend the timeout", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.FailReads(errors.New("framing error"))

		start := tr.Clock().Now()
		err := m.HangUp(context.Background())
		elapsed := tr.Clock().Now().Sub(start)

		if !errors.Is(err, modem.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got: %v", err)
		}
		if elapsed < hangUpTimeout || elapsed > hangUpTimeout+50*time.Millisecond {
			t.Errorf("timed out after %v, want %v", elapsed, hangUpTimeout)
		}
	})

	t.Run("Write failures are not reported as such", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		writeErr := errors.New("tx timeout")
		tr.FailWrites(writeErr)

		err := m.HangUp(context.Background())
		if errors.Is(err, writeErr) {
			t.Errorf("write error leaked: %v", err)
		}
		if !errors.Is(err, modem.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
	})

	t.Run("Marker completing the full buffer is found", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		// Init leaves "\r\n" unread; together they fill the buffer exactly.
		tr.Reply(at.CmdHangUp, strings.Repeat("x", modem.ScanBufferSize-1-2-2)+"OK")

		if err := m.HangUp(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Marker after the buffer filled up is never found", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.Reply(at.CmdHangUp, strings.Repeat("x", modem.ScanBufferSize)+"\r\nOK\r\n")

		if err := m.HangUp(context.Background()); !errors.Is(err, modem.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
	})

	t.Run("Unbounded output keeps polling until the deadline", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.Stream("garbage ")

		start := tr.Clock().Now()
		err := m.HangUp(context.Background())
		elapsed := tr.Clock().Now().Sub(start)

		if !errors.Is(err, modem.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got: %v", err)
		}
		if elapsed < hangUpTimeout {
			t.Errorf("gave up after %v", elapsed)
		}
	})

	t.Run("Cancelled context stops the wait", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := tr.Clock().Now()
		err := m.HangUp(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
		if elapsed := tr.Clock().Now().Sub(start); elapsed != 0 {
			t.Errorf("cancelled wait still polled for %v", elapsed)
		}
	})
}

func TestCall(t *testing.T) {
	t.Run("Dials and waits for acceptance", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		before := len(tr.Writes())
		tr.Reply("ATD", "\r\nOK\r\n")

		if err := m.Call(context.Background(), "+302101234567"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"ATD+302101234567;\r\n"}
		if got := writesAfter(tr, before); !slices.Equal(got, want) {
			t.Errorf("writes = %q, want %q", got, want)
		}
	})

	t.Run("Times out after ten seconds", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)

		start := tr.Clock().Now()
		err := m.Call(context.Background(), "12345")
		elapsed := tr.Clock().Now().Sub(start)
		if !errors.Is(err, modem.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got: %v", err)
		}
		if elapsed < 10*time.Second || elapsed > 10*time.Second+50*time.Millisecond {
			t.Errorf("timed out after %v", elapsed)
		}
	})

	t.Run("ErrEmptyNumber", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		before := len(tr.Writes())

		if err := m.Call(context.Background(), ""); !errors.Is(err, modem.ErrEmptyNumber) {
			t.Errorf("expected ErrEmptyNumber, got: %v", err)
		}
		if w := writesAfter(tr, before); len(w) != 0 {
			t.Errorf("unexpected writes %q", w)
		}
	})

	t.Run("Hang up", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		before := len(tr.Writes())
		tr.Reply(at.CmdHangUp, "\r\nOK\r\n")

		if err := m.HangUp(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := writesAfter(tr, before); !slices.Equal(got, []string{"ATH\r\n"}) {
			t.Errorf("writes = %q", got)
		}
	})
}

func TestArgumentValidation(t *testing.T) {
	const injected = "1;\r\nAT+CFUN=0\r\nATD2"

	ctx := context.Background()
	resp := make([]byte, 16)
	tests := []struct {
		name string
		run  func(m *modem.Modem) error
	}{
		{"Call with command injection", func(m *modem.Modem) error { return m.Call(ctx, injected) }},
		{"Call with chained command", func(m *modem.Modem) error { return m.Call(ctx, "1;+CFUN=0") }},
		{"Call with letters", func(m *modem.Modem) error { return m.Call(ctx, "12ab") }},
		{"SMS recipient with quote", func(m *modem.Modem) error { return m.SendSMS(ctx, `1"`, "hi") }},
		{"SMS recipient with line break", func(m *modem.Modem) error { return m.SendSMS(ctx, injected, "hi") }},
		{"SMS message with Ctrl-Z", func(m *modem.Modem) error { return m.SendSMS(ctx, "12345", "hi\x1aAT+CFUN=0") }},
		{"SMS message with escape", func(m *modem.Modem) error { return m.SendSMS(ctx, "12345", "hi\x1b") }},
		{"APN with quote", func(m *modem.Modem) error { return m.SetupBearer(ctx, `internet"`, "", "") }},
		{"User with line break", func(m *modem.Modem) error { return m.SetupBearer(ctx, "internet", "u\r\nATH", "") }},
		{"Password with Ctrl-Z", func(m *modem.Modem) error { return m.SetupBearer(ctx, "internet", "", "p\x1a") }},
		{"GET url with line break", func(m *modem.Modem) error {
			_, err := m.HTTPGet(ctx, "http://x\r\nAT+CFUN=0", resp)
			return err
		}},
		{"POST url with quote", func(m *modem.Modem) error {
			_, err := m.HTTPPost(ctx, `http://x",1`, "text/plain", []byte("x"), resp)
			return err
		}},
		{"POST content type with line break", func(m *modem.Modem) error {
			_, err := m.HTTPPost(ctx, "http://x", "text/plain\r\nATH", []byte("x"), resp)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := modem.NewTestTransport()
			m := newTestModem(t, tr)
			before := len(tr.Writes())

			if err := tt.run(m); !errors.Is(err, modem.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got: %v", err)
			}
			if w := writesAfter(tr, before); len(w) != 0 {
				t.Errorf("rejected argument reached the wire: %q", w)
			}
		})
	}

	t.Run("Dial characters are accepted", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.Reply("ATD", "\r\nOK\r\n")

		if err := m.Call(ctx, "+30*21#0,1"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Line breaks are kept in SMS text", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr)
		tr.Reply(at.CmdSetTextMode, "\r\nOK\r\n").
			Reply(at.SendMessage("12345"), "\r\n> ").
			Reply(at.CtrlZ, "\r\nOK\r\n")

		if err := m.SendSMS(ctx, "12345", "line one\r\nline \"two\""); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if n := tr.Count("line one\r\nline \"two\""); n != 1 {
			t.Errorf("message written %d times", n)
		}
	})
}
