package mpdmux

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Wire constants for the MPD protocol.
const (
	// GreetingPrefix starts the banner line the server sends on connect.
	// The remainder of the line is the protocol version.
	GreetingPrefix = "OK MPD "

	// SuccessLine terminates a successful reply block.
	SuccessLine = "OK"

	// ListItemLine terminates one member's payload inside a batch reply.
	ListItemLine = "list_OK"

	// AckPrefix starts a failure reply line.
	AckPrefix = "ACK "

	// IdleCommand blocks on the server awaiting change notifications.
	IdleCommand = "idle"

	// NoidleCommand interrupts an outstanding idle command. The server
	// answers the idle command, not the interrupt itself.
	NoidleCommand = "noidle"

	// ListBeginCommand opens a batch whose members are answered with
	// per-member list_OK markers.
	ListBeginCommand = "command_list_ok_begin"

	// ListEndCommand closes a batch.
	ListEndCommand = "command_list_end"

	// FieldSeparator splits a payload line into key and value.
	FieldSeparator = ": "

	// DefaultPort is used when neither the connection spec nor the client
	// configuration names a port.
	DefaultPort = 6600

	// HostEnvVar is the environment variable consulted for a default host.
	HostEnvVar = "MPD_HOST"

	// DialTimeout bounds the TCP connect attempt.
	DialTimeout = 5 * time.Second
)

// ackRE matches a failure line: ACK [<code>@<index>] {<command>} <message>.
var ackRE = regexp.MustCompile(`^ACK \[([0-9]+)@([0-9]+)\] \{([^}]*)\} (.*)$`)

// Quote renders a command argument for the wire. Strings are wrapped in
// double quotes with backslash and quote characters escaped, booleans become
// 0 or 1, and other scalars use their natural textual form.
func Quote(arg any) string {
	switch v := arg.(type) {
	case string:
		return quoteString(v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\\' || ch == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	b.WriteByte('"')
	return b.String()
}

// Unquote reverses Quote for a string argument, as it appears in the command
// text echoed by an ACK line. Input without surrounding quotes is returned
// unchanged.
func Unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	b.Grow(len(body))
	escaped := false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if !escaped && ch == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteByte(ch)
	}
	return b.String()
}

// ParseDialSpec splits a connection spec of the form [password@]host[:port].
// An empty host falls back to the MPD_HOST environment variable and then to
// localhost. Port and password fall back to the given defaults when the spec
// does not carry them. IPv6 hosts may be bracketed.
func ParseDialSpec(spec string, defaultPort int, defaultPassword string) (host string, port int, password string) {
	port = defaultPort
	password = defaultPassword
	if spec == "" {
		spec = os.Getenv(HostEnvVar)
	}
	if at := strings.LastIndexByte(spec, '@'); at >= 0 {
		password = spec[:at]
		spec = spec[at+1:]
	}
	host = spec
	if h, p, err := net.SplitHostPort(spec); err == nil {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			host = h
			port = n
		}
	} else if strings.HasPrefix(spec, "[") && strings.HasSuffix(spec, "]") {
		host = spec[1 : len(spec)-1]
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, password
}
