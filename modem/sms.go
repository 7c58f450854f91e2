package modem

import (
	"context"
	"time"

	"i4.energy/across/sim800/at"
)

const (
	promptTimeout = 3 * time.Second
	submitTimeout = 15 * time.Second
)

// SendSMS sends a text message to the specified recipient.
//
// The message is sent in text mode (not PDU mode): text mode is asserted
// again, AT+CMGS opens the text entry prompt, and the body followed by a
// single Ctrl-Z is written only once the prompt was seen. If the prompt
// never shows up, nothing of the message is written.
//
// This method blocks until the modem acknowledged the submission or a step
// timed out. Network delivery to the final recipient is not awaited.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) error {
	if err := checkNumber(recipient); err != nil {
		return err
	}
	if err := checkMessage(message); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}

	if err := m.sendWait(ctx, at.CmdSetTextMode, at.OK, commandTimeout); err != nil {
		return err
	}

	cmd := at.SendMessage(recipient)
	m.write([]byte(cmd))
	if err := m.expect(ctx, cmd, at.Prompt, promptTimeout); err != nil {
		return err
	}

	m.write([]byte(message))
	m.write([]byte(at.CtrlZ))
	return m.expect(ctx, "", at.OK, submitTimeout)
}
