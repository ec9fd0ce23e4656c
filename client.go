package mpdmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/jimsnab/go-lane"
)

// State is the connection state, formed from two independent flags.
type State int

const (
	flagConnected State = 1
	flagBusy      State = 2

	// StateDisconnected: no connection.
	StateDisconnected State = 0
	// StateConnecting: a TCP connect attempt is in progress.
	StateConnecting State = flagBusy
	// StateIdle: connected with an implicit idle command outstanding or
	// about to be issued; the wire is otherwise silent.
	StateIdle State = flagConnected
	// StateActive: connected with a real command outstanding.
	StateActive State = flagConnected | flagBusy
)

// String returns a short name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client owns one logical MPD connection: the socket, the connection state
// machine, the in-flight FIFO, the pending-subscription set and the root
// executor. It is safe for concurrent use; one lock guards all connection
// state, and writes to the socket happen under it, so FIFO order is exactly
// wire order. A single reader goroutine per connection resolves active
// requests by popping the FIFO head, which makes reply delivery order
// structural rather than scheduled.
type Client struct {
	mu sync.Mutex
	l  lane.Lane

	host     string
	port     int
	password string

	defaultPort     int
	defaultPassword string

	state      State
	conn       net.Conn
	generation int
	version    string

	fifo    []*Request
	waiting []*Request

	root   *Executor
	closed bool
}

// ClientOption adjusts a new client.
type ClientOption func(*Client)

// WithDefaultPort sets the port used when the connection spec names none.
func WithDefaultPort(port int) ClientOption {
	return func(c *Client) { c.defaultPort = port }
}

// WithDefaultPassword sets the password used when the connection spec names
// none.
func WithDefaultPassword(password string) ClientOption {
	return func(c *Client) { c.defaultPassword = password }
}

// NewClient creates a disconnected client.
func NewClient(l lane.Lane, opts ...ClientOption) *Client {
	c := &Client{l: l, defaultPort: DefaultPort}
	c.root = &Executor{client: c}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the client's root executor.
func (c *Client) Root() *Executor {
	return c.root
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Version returns the server's protocol version from the greeting, or the
// empty string when disconnected.
func (c *Client) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Connect parses a "[password@]host[:port]" spec, falling back to $MPD_HOST
// and the client's configured defaults, and establishes the connection.
func (c *Client) Connect(ctx context.Context, spec string) error {
	host, port, password := ParseDialSpec(spec, c.defaultPort, c.defaultPassword)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewConnectionError("client closed", ErrNotConnected)
	}
	c.host = host
	c.port = port
	c.password = password
	c.mu.Unlock()
	return c.Reconnect(ctx)
}

// Reconnect tears down any existing connection and reconnects with the
// previous host, port and password. It returns after the greeting has been
// received and, if a password is configured, accepted.
func (c *Client) Reconnect(ctx context.Context) error {
	c.teardown(ReasonReconnect, "")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewConnectionError("client closed", ErrNotConnected)
	}
	c.generation++
	gen := c.generation
	c.state = StateConnecting
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	c.mu.Unlock()

	c.l.Debugf("connecting to %s", addr)
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return NewConnectionError("connect superseded", ErrConnectionLost)
		}
		c.state = StateDisconnected
		cbs := c.root.collectDisconnectLocked(nil)
		c.mu.Unlock()
		c.l.Infof("connect to %s failed: %s", addr, err)
		for _, cb := range cbs {
			cb(ReasonFailedConnect, err.Error())
		}
		return &ConnectionError{Reason: ReasonFailedConnect, Message: "dial " + addr, Cause: err}
	}

	c.mu.Lock()
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		conn.Close()
		return NewConnectionError("connect superseded", ErrConnectionLost)
	}
	c.conn = conn
	c.state = StateActive
	greeting := newGreetingRequest(c.root)
	c.root.logLocked(greeting)
	c.fifo = []*Request{greeting}
	reader := bufio.NewReader(conn)
	password := c.password
	c.mu.Unlock()
	go c.readLoop(gen, reader)

	value, err := greeting.Wait(ctx)
	if err != nil {
		c.teardown(ReasonError, err.Error())
		return err
	}
	version := value.(string)
	c.mu.Lock()
	if c.generation == gen {
		c.version = version
	}
	c.mu.Unlock()
	c.l.Infof("connected to %s, MPD protocol %s", addr, version)

	if password != "" {
		if _, err := c.root.Do(ctx, "password", password); err != nil {
			var re *ReplyError
			if errors.As(err, &re) {
				c.teardown(ReasonPassword, re.Message)
				return fmt.Errorf("password rejected: %w", err)
			}
			c.teardown(ReasonError, err.Error())
			return err
		}
	}

	c.mu.Lock()
	if c.generation != gen || c.state&flagConnected == 0 {
		c.mu.Unlock()
		return NewConnectionError("connection lost during connect", ErrConnectionLost)
	}
	cbs := c.root.collectConnectLocked(nil)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	c.mu.Lock()
	if c.generation == gen {
		c.dispatchLocked(Connect)
	}
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection. Outstanding requests fail with a
// connection error and every registered observer is notified once with
// reason ReasonRequested. Idempotent when already disconnected.
func (c *Client) Disconnect() {
	c.teardown(ReasonRequested, "")
}

// Close disconnects with reason ReasonShutdown and closes the root
// executor, making the client unusable.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.teardown(ReasonShutdown, "")
	c.root.Close()
}

// teardown is the single disconnect path: it settles every FIFO member and
// pending subscription with a connection error and runs exactly one
// disconnect fan-out, observers first so consumer layers see the
// disconnection before any failed request is awaited further.
func (c *Client) teardown(reason DisconnectReason, message string) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.generation++
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.version = ""
	fifo := c.fifo
	c.fifo = nil
	waiting := c.waiting
	c.waiting = nil
	cbs := c.root.collectDisconnectLocked(nil)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.l.Infof("disconnected: %s", reason)
	for _, cb := range cbs {
		cb(reason, message)
	}

	c.mu.Lock()
	for _, r := range fifo {
		r.owner.unlogLocked(r)
	}
	for _, r := range waiting {
		r.owner.unlogLocked(r)
	}
	c.mu.Unlock()
	err := &ConnectionError{Reason: reason, Message: "disconnected: " + reason.String(), Cause: ErrConnectionLost}
	for _, r := range fifo {
		r.fail(err)
	}
	for _, r := range waiting {
		r.fail(err)
	}
}

// readLoop reads reply lines for one connection generation and feeds them
// to the FIFO head. It alone pops the FIFO, so active requests resolve in
// exactly the order their commands were written.
func (c *Client) readLoop(gen int, reader *bufio.Reader) {
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			c.mu.Lock()
			stale := c.generation != gen
			c.mu.Unlock()
			if !stale {
				c.teardown(ReasonError, err.Error())
			}
			return
		}
		line := strings.TrimSuffix(raw, "\n")

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		c.l.Tracef("recv: %s", line)
		if len(c.fifo) == 0 {
			c.mu.Unlock()
			c.teardown(ReasonError, fmt.Sprintf("unsolicited reply line %q", line))
			return
		}
		head := c.fifo[0]
		if !head.feed(line) {
			c.mu.Unlock()
			continue
		}
		c.fifo = c.fifo[1:]
		head.owner.unlogLocked(head)
		if _, err := head.Result(); err != nil {
			var pe *ProtocolError
			if errors.As(err, &pe) {
				c.l.Warnf("protocol error on %s: %s", head, pe)
			}
		}
		if head.isIdle {
			// The forced or spontaneous idle reply ends the idle period.
			c.state |= flagBusy
			if value, err := head.Result(); err == nil {
				changed := None
				for _, name := range value.([]string) {
					changed |= SubsystemEvent(name)
				}
				if changed != None {
					c.l.Debugf("changed: %s", changed)
					c.dispatchLocked(changed)
				}
			}
		}
		if len(c.fifo) == 0 {
			c.goIdleLocked()
		}
		c.mu.Unlock()
	}
}

// send writes an active request to the wire on behalf of an executor and
// appends it to the FIFO.
func (c *Client) send(e *Executor, r *Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.closed {
		return NewConnectionError("executor closed", ErrNotConnected)
	}
	if err := c.sendLocked(r); err != nil {
		return err
	}
	e.logLocked(r)
	return nil
}

// sendLocked performs the wire write. Issuing a real command while idle
// first interrupts the outstanding idle command with the noidle token; the
// forced idle reply arrives before the new command's reply, in FIFO order.
func (c *Client) sendLocked(r *Request) error {
	if c.state&flagConnected == 0 {
		return NewConnectionError("not connected", ErrNotConnected)
	}
	if r.isIdle {
		c.state &^= flagBusy
	} else if c.state&flagBusy == 0 {
		c.l.Tracef("send: %s", NoidleCommand)
		if _, err := c.conn.Write([]byte(NoidleCommand + "\n")); err != nil {
			return NewConnectionError("write failed", err)
		}
		c.state |= flagBusy
	}
	c.l.Tracef("send: %s", r)
	if _, err := c.conn.Write([]byte(r.line + "\n")); err != nil {
		return NewConnectionError("write failed", err)
	}
	c.fifo = append(c.fifo, r)
	return nil
}

// wait registers a passive request with the event multiplexer. When the
// current connection state already satisfies a bit of the mask it resolves
// synchronously and never touches the wire; the timeout timer is armed only
// when the subscription actually goes pending.
func (c *Client) wait(e *Executor, r *Request) error {
	c.mu.Lock()
	if e.closed {
		c.mu.Unlock()
		return NewConnectionError("executor closed", ErrNotConnected)
	}
	if matched := c.currentEventsLocked() & r.mask; matched != None {
		c.mu.Unlock()
		r.resolve(matched)
		return nil
	}
	e.logLocked(r)
	c.waiting = append(c.waiting, r)
	c.mu.Unlock()
	if r.timeout > 0 {
		r.arm(r.timeout, func() { c.subscriptionTimeout(r) })
	}
	return nil
}

// subscriptionTimeout resolves a pending subscription whose deadline
// elapsed with the synthetic Timeout bit alone.
func (c *Client) subscriptionTimeout(r *Request) {
	c.mu.Lock()
	c.removeWaitingLocked(r)
	r.owner.unlogLocked(r)
	c.mu.Unlock()
	r.resolve(Timeout)
}

// cancelRequest abandons a request on the caller's behalf.
func (c *Client) cancelRequest(r *Request) {
	c.mu.Lock()
	if r.passive {
		c.removeWaitingLocked(r)
	}
	r.owner.unlogLocked(r)
	c.mu.Unlock()
	r.fail(ErrCancelled)
}

// currentEventsLocked is the synthetic event mask the connection state
// satisfies right now.
func (c *Client) currentEventsLocked() Event {
	ev := None
	if c.state&flagConnected != 0 {
		ev |= Connect
	}
	if c.state == StateIdle {
		ev |= Idle
	}
	return ev
}

// dispatchLocked resolves, in one pass, every pending subscription whose
// mask intersects the event.
func (c *Client) dispatchLocked(ev Event) {
	var keep []*Request
	for _, r := range c.waiting {
		matched := r.mask & ev
		if matched == None {
			keep = append(keep, r)
			continue
		}
		r.owner.unlogLocked(r)
		r.resolve(matched)
	}
	c.waiting = keep
}

// removeWaitingLocked drops a subscription from the pending set.
func (c *Client) removeWaitingLocked(r *Request) {
	for i, w := range c.waiting {
		if w == r {
			c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
			return
		}
	}
}

// goIdleLocked runs when the FIFO drains with the wire otherwise silent:
// subscriptions watching the synthetic Idle bit are resolved, then the
// implicit idle command is issued so the server's push notifications are
// always being listened for. A woken waiter that immediately issues a
// command simply triggers the normal noidle interrupt.
func (c *Client) goIdleLocked() {
	if c.state&flagConnected == 0 || len(c.fifo) != 0 {
		return
	}
	c.state = StateIdle
	c.dispatchLocked(Idle)
	if c.state&flagConnected == 0 || len(c.fifo) != 0 {
		return
	}
	c.l.Debugf("going idle")
	idle := newIdleRequest(c.root)
	if err := c.sendLocked(idle); err != nil {
		// The reader notices the broken socket and tears down.
		c.l.Debugf("implicit idle failed: %s", err)
		return
	}
	c.root.logLocked(idle)
}
