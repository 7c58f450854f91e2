package at

import (
	"bufio"
	"bytes"
	"strings"
)

// promptToken is the SMS text entry prompt as the SIM800 prints it.
const promptToken = Prompt + " "

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also
// recognizes the SMS input prompt ("> ").
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if bytes.HasPrefix(data, []byte(promptToken)) {
		return len(promptToken), data[0:len(promptToken)], nil
	}

	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == promptToken || line == Prompt {
		return TypePrompt
	}

	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer, Download:
		return TypeFinal
	}

	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, "+CMTI:"), line == "RING",
		line == "Call Ready", line == "SMS Ready", strings.HasPrefix(line, "+CPIN:"):
		return TypeURC
	default:
		return TypeData
	}
}

// Lines splits a raw modem capture into its non-empty tokens.
func Lines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Split(Splitter)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// LastResult returns the last final result code in data, or "" if the
// capture holds none. It is only meant for diagnostics: a result code
// that differs from the awaited marker explains why a wait timed out.
func LastResult(data []byte) string {
	lines := Lines(data)
	for i := len(lines) - 1; i >= 0; i-- {
		if Classify(lines[i]) == TypeFinal {
			return lines[i]
		}
	}
	return ""
}
