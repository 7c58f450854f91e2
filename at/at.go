package at

import "strconv"

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = ">"
	CtrlZ  = "\x1A"
	Esc    = "\x1B"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// HTTP markers
	Download       = "DOWNLOAD"
	HTTPAction     = "HTTPACTION:"
	HTTPReadHeader = "+HTTPREAD:"
	// HTTPReadEnd closes the body returned by AT+HTTPREAD.
	HTTPReadEnd = CRLF + OK + CRLF
)

// Commands. Every command carries its own CRLF terminator.
const (
	CmdAt          = "AT" + CRLF
	CmdEchoOff     = "ATE0" + CRLF
	CmdSetTextMode = "AT+CMGF=1" + CRLF
	CmdCharsetGSM  = `AT+CSCS="GSM"` + CRLF
	CmdHangUp      = "ATH" + CRLF

	CmdBearerContype = `AT+SAPBR=3,1,"Contype","GPRS"` + CRLF
	CmdBearerOpen    = "AT+SAPBR=1,1" + CRLF

	CmdHTTPInit = "AT+HTTPINIT" + CRLF
	CmdHTTPTerm = "AT+HTTPTERM" + CRLF
	CmdHTTPCID  = `AT+HTTPPARA="CID",1` + CRLF
	CmdHTTPGet  = "AT+HTTPACTION=0" + CRLF
	CmdHTTPPost = "AT+HTTPACTION=1" + CRLF
	CmdHTTPRead = "AT+HTTPREAD" + CRLF
)

// HTTPDataLimit is the largest body AT+HTTPDATA accepts.
const HTTPDataLimit = 319488

// httpDataLatency is the time in ms the modem waits for the body after DOWNLOAD.
const httpDataLatency = 10000

// Dial returns the voice dial command for number.
func Dial(number string) string {
	return "ATD" + number + ";" + CRLF
}

// SendMessage returns the command that opens the text entry prompt for a
// message to number.
func SendMessage(number string) string {
	return `AT+CMGS="` + number + `"` + CRLF
}

// BearerParam returns an AT+SAPBR=3 command setting tag on bearer profile 1.
func BearerParam(tag, value string) string {
	return `AT+SAPBR=3,1,"` + tag + `","` + value + `"` + CRLF
}

// HTTPParam returns an AT+HTTPPARA command setting tag to value.
func HTTPParam(tag, value string) string {
	return `AT+HTTPPARA="` + tag + `","` + value + `"` + CRLF
}

// HTTPData returns the command announcing a body of n bytes.
func HTTPData(n int) string {
	return "AT+HTTPDATA=" + strconv.Itoa(n) + "," + strconv.Itoa(httpDataLatency) + CRLF
}

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypePrompt:
		return "prompt"
	default:
		return "data"
	}
}
