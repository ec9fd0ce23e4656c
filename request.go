package mpdmux

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Request is a caller's handle on one in-flight protocol transaction. It
// settles exactly once, with a decoded value or an error; later resolutions
// are no-ops. Active requests (commands, batches, the greeting) occupy the
// in-flight FIFO and are resolved in wire order by the connection's reader.
// Passive requests (subscriptions) are resolved by the event multiplexer, or
// immediately from connection state, and never touch the FIFO.
type Request struct {
	owner   *Executor
	line    string
	passive bool
	isIdle  bool

	// feed consumes one reply line and reports whether the reply block is
	// complete. Active variants only; always called under the client lock.
	feed func(line string) bool

	// subscription bookkeeping
	mask    Event
	timeout time.Duration

	mu      sync.Mutex
	settled bool
	value   any
	err     error
	timer   *time.Timer
	done    chan struct{}
}

func newRequest(owner *Executor, line string) *Request {
	return &Request{owner: owner, line: line, done: make(chan struct{})}
}

// settle records the outcome. The first settlement wins.
func (r *Request) settle(value any, err error) bool {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return false
	}
	r.settled = true
	r.value = value
	r.err = err
	timer := r.timer
	r.timer = nil
	r.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	close(r.done)
	return true
}

func (r *Request) resolve(value any) { r.settle(value, nil) }

func (r *Request) fail(err error) { r.settle(nil, err) }

// arm starts the subscription timeout timer, unless already settled.
func (r *Request) arm(d time.Duration, f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.timer = time.AfterFunc(d, f)
}

// Done returns a channel closed when the request settles.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Result returns the outcome without blocking. While the request is still
// pending it returns ErrPending.
func (r *Request) Result() (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.settled {
		return nil, ErrPending
	}
	return r.value, r.err
}

// Wait blocks until the request settles or ctx is done. Abandoning the wait
// does not remove an active request from the FIFO; its reply is still
// consumed in order and discarded.
func (r *Request) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitEvent waits for a subscription request and returns the matched mask.
func (r *Request) WaitEvent(ctx context.Context) (Event, error) {
	if !r.passive {
		return None, &CommandError{Reason: "not a subscription request"}
	}
	value, err := r.Wait(ctx)
	if err != nil {
		return None, err
	}
	return value.(Event), nil
}

// Cancel abandons the request. A pending subscription is removed without
// wire consequences; an active request stays in the FIFO so its reply is
// still consumed in order, but the result is discarded.
func (r *Request) Cancel() {
	if r.owner != nil {
		r.owner.client.cancelRequest(r)
	}
}

// String returns the request's human-readable wire representation.
func (r *Request) String() string {
	return r.line
}

// splitField parses one "key: value" payload line, normalizing hyphens in
// the key to underscores.
func splitField(line string) (KeyValue, bool) {
	sep := strings.Index(line, FieldSeparator)
	if sep < 0 {
		return KeyValue{}, false
	}
	return KeyValue{
		Key:   strings.ReplaceAll(line[:sep], "-", "_"),
		Value: line[sep+len(FieldSeparator):],
	}, true
}

// parseAck decodes an ACK failure line.
func parseAck(line string) (code, index int, command, message string, ok bool) {
	m := ackRE.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, "", "", false
	}
	code, _ = strconv.Atoi(m[1])
	index, _ = strconv.Atoi(m[2])
	return code, index, m[3], m[4], true
}

// newGreetingRequest expects the single banner line the server sends on
// connect and resolves to the protocol version. Nothing is written for it.
func newGreetingRequest(owner *Executor) *Request {
	r := newRequest(owner, "greeting")
	r.feed = func(line string) bool {
		if version, found := strings.CutPrefix(line, GreetingPrefix); found {
			r.resolve(version)
		} else {
			r.fail(&ProtocolError{Line: line, Reason: "malformed greeting"})
		}
		return true
	}
	return r
}

// newCommandRequest wraps a single command. The reply's payload lines are
// accumulated until the OK terminator, then folded by the command's decode
// shape. A malformed payload line latches a ProtocolError but the block is
// still consumed through its terminator so the stream stays synchronized.
func newCommandRequest(owner *Executor, cmd *Command) *Request {
	r := newRequest(owner, cmd.line)
	var fields []KeyValue
	var latched error
	r.feed = func(line string) bool {
		if code, index, name, message, ok := parseAck(line); ok {
			r.fail(&ReplyError{Code: code, Index: index, Command: name, Message: message, Line: r.line})
			return true
		}
		if line == SuccessLine {
			if latched != nil {
				r.fail(latched)
				return true
			}
			value, err := cmd.decode(fields)
			if err != nil {
				r.fail(err)
			} else {
				r.resolve(value)
			}
			return true
		}
		if f, ok := splitField(line); ok {
			fields = append(fields, f)
		} else if latched == nil {
			latched = &ProtocolError{Line: line, Reason: "malformed payload line"}
		}
		return false
	}
	return r
}

// newIdleRequest is the engine's implicit idle command, decoding the
// "changed: <subsystem>" lines into the list of subsystem names.
func newIdleRequest(owner *Executor) *Request {
	idle := &Command{name: IdleCommand, line: IdleCommand, decode: decodeList}
	r := newCommandRequest(owner, idle)
	r.isIdle = true
	return r
}

// newListRequest wraps a command batch. Each member's payload runs to its
// list_OK separator and is decoded individually; the batch resolves to the
// ordered member results after the final OK, or fails at the first failing
// member with the protocol-reported index and that member's own wire line.
func newListRequest(owner *Executor, list *CommandList) *Request {
	members := list.Commands()
	r := newRequest(owner, list.String())
	results := make([]any, 0, len(members))
	var fields []KeyValue
	var latched error
	next := 0
	r.feed = func(line string) bool {
		if code, index, name, message, ok := parseAck(line); ok {
			memberLine := r.line
			if index >= 0 && index < len(members) {
				memberLine = members[index].line
			}
			r.fail(&ReplyError{Code: code, Index: index, Command: name, Message: message, Line: memberLine})
			return true
		}
		if next < len(members) {
			if line == ListItemLine {
				if latched == nil {
					value, err := members[next].decode(fields)
					if err != nil {
						latched = err
					} else {
						results = append(results, value)
					}
				}
				fields = nil
				next++
				return false
			}
			if f, ok := splitField(line); ok {
				fields = append(fields, f)
			} else if latched == nil {
				latched = &ProtocolError{Line: line, Reason: "malformed payload line"}
			}
			return false
		}
		// All members answered; only the batch terminator remains.
		if line != SuccessLine {
			if latched == nil {
				latched = &ProtocolError{Line: line, Reason: "excess reply lines for command list"}
			}
			return false
		}
		if latched != nil {
			r.fail(latched)
		} else {
			r.resolve(results)
		}
		return true
	}
	return r
}

// newSubscription builds a passive request watching the given subsystem
// mask. A zero timeout means no deadline.
func newSubscription(owner *Executor, mask Event, timeout time.Duration) *Request {
	r := newRequest(owner, "idle("+mask.String()+")")
	r.passive = true
	r.mask = mask
	r.timeout = timeout
	return r
}
