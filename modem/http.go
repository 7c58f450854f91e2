package modem

import (
	"context"
	"time"

	"i4.energy/across/sim800/at"
)

const (
	bearerParamTimeout = 2 * time.Second
	bearerOpenTimeout  = 10 * time.Second

	httpStaleTermTimeout = 1 * time.Second
	httpInitTimeout      = 2 * time.Second
	httpCIDTimeout       = 2 * time.Second
	httpParamTimeout     = 3 * time.Second
	httpTermTimeout      = 2 * time.Second
	httpGetTimeout       = 15 * time.Second
	httpDataTimeout      = 5 * time.Second
	httpUploadTimeout    = 10 * time.Second
	httpPostTimeout      = 20 * time.Second

	// readPollInterval is the per-byte read timeout while collecting a body.
	readPollInterval  = 100 * time.Millisecond
	readHeaderTimeout = 3 * time.Second
	readBodyTimeout   = 10 * time.Second
)

// SetupBearer configures GPRS bearer profile 1 with the access point name
// and opens it. Call it once before HTTPGet or HTTPPost.
//
// The user and password steps are only sent when the value is non-empty.
// When sent, their failure aborts the setup like any other step.
func (m *Modem) SetupBearer(ctx context.Context, apn, user, password string) error {
	if err := checkParams("apn", apn, "user", user, "password", password); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}

	steps := []step{
		{cmd: at.CmdBearerContype, marker: at.OK, timeout: bearerParamTimeout},
		{cmd: at.BearerParam("APN", apn), marker: at.OK, timeout: bearerParamTimeout},
	}
	if user != "" {
		steps = append(steps, step{cmd: at.BearerParam("USER", user), marker: at.OK, timeout: bearerParamTimeout})
	}
	if password != "" {
		steps = append(steps, step{cmd: at.BearerParam("PWD", password), marker: at.OK, timeout: bearerParamTimeout})
	}
	steps = append(steps, step{cmd: at.CmdBearerOpen, marker: at.OK, timeout: bearerOpenTimeout})

	return m.runSteps(ctx, steps...)
}

// HTTPGet fetches url through the bearer and copies the raw AT+HTTPREAD
// output into resp. It returns the number of bytes stored.
//
// resp is zeroed first and at most len(resp)-1 bytes are stored, always
// followed by a 0x00 terminator. The read stops at the closing OK or after
// a fixed timeout; a body truncated by either limit is not reported as an
// error and can only be told apart by its content.
//
// The HTTP session is terminated before returning, whatever the outcome.
func (m *Modem) HTTPGet(ctx context.Context, url string, resp []byte) (int, error) {
	if err := checkParams("url", url); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return 0, err
	}

	return m.httpSession(ctx, resp, func() error {
		return m.runSteps(ctx,
			step{cmd: at.HTTPParam("URL", url), marker: at.OK, timeout: httpParamTimeout},
			step{cmd: at.CmdHTTPGet, marker: at.HTTPAction, timeout: httpGetTimeout},
		)
	})
}

// HTTPPost sends body to url with the given content type and copies the
// response into resp the same way HTTPGet does.
func (m *Modem) HTTPPost(ctx context.Context, url, contentType string, body, resp []byte) (int, error) {
	if len(body) > at.HTTPDataLimit {
		return 0, ErrBodyTooLarge
	}
	if err := checkParams("url", url, "content type", contentType); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return 0, err
	}

	return m.httpSession(ctx, resp, func() error {
		err := m.runSteps(ctx,
			step{cmd: at.HTTPParam("URL", url), marker: at.OK, timeout: httpParamTimeout},
			step{cmd: at.HTTPParam("CONTENT", contentType), marker: at.OK, timeout: httpParamTimeout},
			step{cmd: at.HTTPData(len(body)), marker: at.Download, timeout: httpDataTimeout},
		)
		if err != nil {
			return err
		}

		m.write(body)
		if err := m.expect(ctx, "", at.OK, httpUploadTimeout); err != nil {
			return err
		}

		return m.sendWait(ctx, at.CmdHTTPPost, at.HTTPAction, httpPostTimeout)
	})
}

// httpSession runs request inside a fresh HTTP session and reads the body
// when request succeeded. Caller must hold m.mu.
//
// The first failure decides the result. The closing AT+HTTPTERM is sent
// exactly once on every path, and its own failure is only logged.
func (m *Modem) httpSession(ctx context.Context, resp []byte, request func() error) (int, error) {
	n := 0
	err := m.runSteps(ctx,
		step{cmd: at.CmdHTTPTerm, marker: at.OK, timeout: httpStaleTermTimeout, mode: advisory},
		step{cmd: at.CmdHTTPInit, marker: at.OK, timeout: httpInitTimeout},
		step{cmd: at.CmdHTTPCID, marker: at.OK, timeout: httpCIDTimeout},
	)
	if err == nil {
		err = request()
	}
	if err == nil {
		n = m.httpRead(ctx, resp)
		err = m.interrupted(ctx)
	}

	// The session has to be torn down even when ctx is already done.
	if termErr := m.sendWait(context.WithoutCancel(ctx), at.CmdHTTPTerm, at.OK, httpTermTimeout); termErr != nil {
		m.logger.Warn("terminate HTTP session failed", "error", termErr)
	}

	return n, err
}

// httpRead issues AT+HTTPREAD and stores the modem output into resp until
// the closing OK shows up or the read timeout elapses. It returns the number
// of bytes stored. Caller must hold m.mu.
func (m *Modem) httpRead(ctx context.Context, resp []byte) int {
	out := newBoundedBuffer(resp)
	start := m.clock.Now()

	m.write([]byte(at.CmdHTTPRead))
	if err := m.expect(ctx, at.CmdHTTPRead, at.HTTPReadHeader, readHeaderTimeout); err != nil {
		m.logger.Debug("no body header, reading anyway", "error", err)
	}

	for m.clock.Now().Sub(start) < readBodyTimeout {
		if m.interrupted(ctx) != nil {
			break
		}
		if c, ok := m.receiveByte(readPollInterval); ok {
			out.push(c)
		}
		if out.contains(at.HTTPReadEnd) {
			return out.n
		}
	}

	m.logger.Debug("body read ended without terminator", "bytes", out.n, "full", out.full())
	return out.n
}
