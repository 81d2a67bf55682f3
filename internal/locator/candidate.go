package locator

import (
	"regexp"
	"strconv"
)

// Command-line flags the language server is launched with.
const (
	CSRFTokenFlag     = "--csrf_token"
	ExtensionPortFlag = "--extension_server_port"
)

var (
	csrfTokenPattern     = regexp.MustCompile(regexp.QuoteMeta(CSRFTokenFlag) + `(?:=|\s+)([0-9A-Fa-f][0-9A-Fa-f-]*)`)
	extensionPortPattern = regexp.MustCompile(regexp.QuoteMeta(ExtensionPortFlag) + `(?:=|\s+)(\d+)`)
)

// Candidate is a matching process whose launch arguments were extracted but
// whose ports have not been verified yet.
type Candidate struct {
	PID           int
	ExtensionPort int
	CSRFToken     string
}

// ParseCandidate extracts the CSRF token and extension port from a command line.
// Both must be present; a process carrying only one of them is not the language server.
func ParseCandidate(pid int, cmdline string) (Candidate, bool) {
	tokenMatch := csrfTokenPattern.FindStringSubmatch(cmdline)
	if tokenMatch == nil {
		return Candidate{}, false
	}
	portMatch := extensionPortPattern.FindStringSubmatch(cmdline)
	if portMatch == nil {
		return Candidate{}, false
	}

	port, err := strconv.Atoi(portMatch[1])
	if err != nil || port < 1 || port > maxPort {
		return Candidate{}, false
	}

	return Candidate{
		PID:           pid,
		ExtensionPort: port,
		CSRFToken:     tokenMatch[1],
	}, true
}
