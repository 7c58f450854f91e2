package modem

import (
	"fmt"
	"strings"

	"i4.energy/across/sim800/at"
)

// numberChars are the characters of a dial string or SMS destination.
const numberChars = "0123456789+*#,"

// commandBreakers end the command line or the quoted parameter they appear in.
const commandBreakers = "\r\n\"" + at.CtrlZ + at.Esc

func checkNumber(number string) error {
	if number == "" {
		return ErrEmptyNumber
	}
	for _, r := range number {
		if !strings.ContainsRune(numberChars, r) {
			return fmt.Errorf("%w: number %q", ErrInvalidArgument, number)
		}
	}
	return nil
}

// checkParams rejects values that cannot be sent inside a quoted command
// parameter. params alternates names and values.
func checkParams(params ...string) error {
	for i := 0; i+1 < len(params); i += 2 {
		if strings.ContainsAny(params[i+1], commandBreakers) {
			return fmt.Errorf("%w: %s %q", ErrInvalidArgument, params[i], params[i+1])
		}
	}
	return nil
}

// checkMessage rejects SMS text containing the submit or cancel character.
// Line breaks are part of the text.
func checkMessage(message string) error {
	if strings.ContainsAny(message, at.CtrlZ+at.Esc) {
		return fmt.Errorf("%w: message contains a control character", ErrInvalidArgument)
	}
	return nil
}
