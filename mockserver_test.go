package mpdmux

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockServer is a scripted in-process MPD server. The handler receives each
// command line (a whole batch arrives as one newline-joined string) and
// returns the raw reply text to send back, including the terminator line
// and trailing newlines. An empty return sends nothing, leaving the command
// unanswered. Idle and noidle are handled by the server itself: push queues
// or delivers changed-subsystem notifications the way a real server does.
type mockServer struct {
	t        *testing.T
	listener net.Listener
	greeting string
	handler  func(cmd string) string

	mu       sync.Mutex
	conns    []net.Conn
	received []string
	idleConn net.Conn
	queued   []string
	wg       sync.WaitGroup
}

func startMockServer(t *testing.T, handler func(cmd string) string) *mockServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	if handler == nil {
		handler = defaultMockHandler
	}

	ms := &mockServer{
		t:        t,
		listener: listener,
		greeting: "OK MPD 0.23.5\n",
		handler:  handler,
	}

	ms.wg.Add(1)
	go ms.acceptLoop()

	t.Cleanup(func() {
		ms.stop()
	})

	return ms
}

// addr returns the server's host:port.
func (ms *mockServer) addr() string {
	return ms.listener.Addr().String()
}

func (ms *mockServer) acceptLoop() {
	defer ms.wg.Done()

	for {
		conn, err := ms.listener.Accept()
		if err != nil {
			return
		}

		ms.mu.Lock()
		ms.conns = append(ms.conns, conn)
		ms.mu.Unlock()

		ms.wg.Add(1)
		go ms.handleConnection(conn)
	}
}

func (ms *mockServer) handleConnection(conn net.Conn) {
	defer ms.wg.Done()

	fmt.Fprint(conn, ms.greeting)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		ms.record(line)

		switch {
		case line == ListBeginCommand:
			// Collect the whole batch and hand it to the handler in one
			// piece.
			batch := []string{line}
			for scanner.Scan() {
				member := scanner.Text()
				ms.record(member)
				batch = append(batch, member)
				if member == ListEndCommand {
					break
				}
			}
			if reply := ms.handler(strings.Join(batch, "\n")); reply != "" {
				fmt.Fprint(conn, reply)
			}

		case line == IdleCommand:
			ms.mu.Lock()
			if len(ms.queued) > 0 {
				reply := ms.changedReplyLocked()
				ms.mu.Unlock()
				fmt.Fprint(conn, reply)
			} else {
				ms.idleConn = conn
				ms.mu.Unlock()
			}

		case line == NoidleCommand:
			ms.mu.Lock()
			reply := ""
			if ms.idleConn == conn {
				reply = ms.changedReplyLocked()
				ms.idleConn = nil
			}
			ms.mu.Unlock()
			if reply != "" {
				fmt.Fprint(conn, reply)
			}

		default:
			if reply := ms.handler(line); reply != "" {
				fmt.Fprint(conn, reply)
			}
		}
	}
}

// changedReplyLocked drains the queued notifications into an idle reply.
func (ms *mockServer) changedReplyLocked() string {
	var b strings.Builder
	for _, subsystem := range ms.queued {
		fmt.Fprintf(&b, "changed%s%s\n", FieldSeparator, subsystem)
	}
	ms.queued = nil
	b.WriteString(SuccessLine + "\n")
	return b.String()
}

// push notifies the client of changed subsystems, immediately when an idle
// command is outstanding, queued for the next idle otherwise.
func (ms *mockServer) push(subsystems ...string) {
	ms.mu.Lock()
	ms.queued = append(ms.queued, subsystems...)
	conn := ms.idleConn
	reply := ""
	if conn != nil {
		reply = ms.changedReplyLocked()
		ms.idleConn = nil
	}
	ms.mu.Unlock()
	if conn != nil {
		fmt.Fprint(conn, reply)
	}
}

func (ms *mockServer) record(line string) {
	ms.mu.Lock()
	ms.received = append(ms.received, line)
	ms.mu.Unlock()
}

// receivedLines returns a snapshot of every line received so far.
func (ms *mockServer) receivedLines() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.received...)
}

// receivedCount counts how many times an exact line was received.
func (ms *mockServer) receivedCount(line string) int {
	n := 0
	for _, l := range ms.receivedLines() {
		if l == line {
			n++
		}
	}
	return n
}

// idleOutstanding reports whether an idle command is currently parked.
func (ms *mockServer) idleOutstanding() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.idleConn != nil
}

// closeClientConns drops every client connection from the server side.
func (ms *mockServer) closeClientConns() {
	ms.mu.Lock()
	conns := ms.conns
	ms.conns = nil
	ms.idleConn = nil
	ms.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func (ms *mockServer) stop() {
	ms.listener.Close()
	ms.closeClientConns()
	ms.wg.Wait()
}

func defaultMockHandler(cmd string) string {
	switch {
	case cmd == "status":
		return "volume: 50\nOK\n"
	case cmd == "currentsong":
		return "file: x.mp3\nOK\n"
	default:
		return "OK\n"
	}
}

// waitFor polls until the condition holds, failing the test after a few
// seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
