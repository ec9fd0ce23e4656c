package mpdmux

import (
	"context"
	"time"
)

// Executor is a lifetime scope for requests and connection observers,
// organized as a tree rooted at the client. Closing a scope closes its
// descendants first, fails every request it still owns with a connection
// error, and detaches it from its parent. All fields are guarded by the
// client's lock.
type Executor struct {
	client   *Client
	parent   *Executor
	children []*Executor
	requests []*Request

	onConnect    func()
	onDisconnect func(reason DisconnectReason, message string)

	closed bool
}

// Sub returns a child scope. A child created on a closed scope is itself
// closed.
func (e *Executor) Sub() *Executor {
	c := e.client
	c.mu.Lock()
	defer c.mu.Unlock()
	child := &Executor{client: c, parent: e}
	if e.closed {
		child.closed = true
		child.parent = nil
		return child
	}
	e.children = append(e.children, child)
	return child
}

// Close closes all descendant scopes depth-first, fails every request this
// scope still owns with a connection error, then detaches from the parent
// and clears the callbacks. Closing twice is a no-op.
func (e *Executor) Close() {
	c := e.client
	var orphans []*Request
	c.mu.Lock()
	e.closeLocked(&orphans)
	c.mu.Unlock()
	err := NewConnectionError("executor closed", ErrNotConnected)
	for _, r := range orphans {
		r.fail(err)
	}
}

func (e *Executor) closeLocked(orphans *[]*Request) {
	if e.closed {
		return
	}
	e.closed = true
	for len(e.children) > 0 {
		e.children[len(e.children)-1].closeLocked(orphans)
	}
	for _, r := range e.requests {
		if r.passive {
			e.client.removeWaitingLocked(r)
		}
		*orphans = append(*orphans, r)
	}
	e.requests = nil
	if e.parent != nil {
		siblings := e.parent.children
		for i, child := range siblings {
			if child == e {
				e.parent.children = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		e.parent = nil
	}
	e.onConnect = nil
	e.onDisconnect = nil
}

// SetCallbacks registers the scope's connection observers. If the
// connection is already established, onConnect is replayed synchronously so
// a late-registering scope never misses a past connect.
func (e *Executor) SetCallbacks(onConnect func(), onDisconnect func(reason DisconnectReason, message string)) {
	c := e.client
	c.mu.Lock()
	if e.closed {
		c.mu.Unlock()
		return
	}
	e.onConnect = onConnect
	e.onDisconnect = onDisconnect
	replay := onConnect != nil && c.state&flagConnected != 0
	c.mu.Unlock()
	if replay {
		onConnect()
	}
}

// IsConnected reports whether the client's connection is established.
func (e *Executor) IsConnected() bool {
	c := e.client
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state&flagConnected != 0
}

// Send issues a command on the wire and returns its request handle.
func (e *Executor) Send(cmd *Command) (*Request, error) {
	r := newCommandRequest(e, cmd)
	if err := e.client.send(e, r); err != nil {
		return nil, err
	}
	return r, nil
}

// SendList issues a command batch as one wire transaction.
func (e *Executor) SendList(list *CommandList) (*Request, error) {
	r := newListRequest(e, list)
	if err := e.client.send(e, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Subscribe watches the given subsystem mask. The request resolves with the
// subset of the mask that fired, immediately when the connection state
// already satisfies a bit of the mask, or with Timeout when the optional
// deadline elapses first. A zero timeout means no deadline.
func (e *Executor) Subscribe(mask Event, timeout time.Duration) (*Request, error) {
	r := newSubscription(e, mask, timeout)
	if err := e.client.wait(e, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Do builds a command from the catalog, sends it and waits for the decoded
// result.
func (e *Executor) Do(ctx context.Context, name string, args ...any) (any, error) {
	cmd, err := NewCommand(name, args...)
	if err != nil {
		return nil, err
	}
	r, err := e.Send(cmd)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx)
}

// DoList sends a command batch and waits for the ordered member results.
func (e *Executor) DoList(ctx context.Context, list *CommandList) ([]any, error) {
	r, err := e.SendList(list)
	if err != nil {
		return nil, err
	}
	value, err := r.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return value.([]any), nil
}

// logLocked records an open request against this scope.
func (e *Executor) logLocked(r *Request) {
	e.requests = append(e.requests, r)
}

// unlogLocked removes a settled request from this scope.
func (e *Executor) unlogLocked(r *Request) {
	for i, open := range e.requests {
		if open == r {
			e.requests = append(e.requests[:i], e.requests[i+1:]...)
			return
		}
	}
}

// collectConnectLocked gathers connect callbacks pre-order, parent before
// children.
func (e *Executor) collectConnectLocked(cbs []func()) []func() {
	if e.onConnect != nil {
		cbs = append(cbs, e.onConnect)
	}
	for _, child := range e.children {
		cbs = child.collectConnectLocked(cbs)
	}
	return cbs
}

// collectDisconnectLocked gathers disconnect callbacks post-order, children
// before parent, so a child observes the disconnect before its parent's
// cleanup runs.
func (e *Executor) collectDisconnectLocked(cbs []func(DisconnectReason, string)) []func(DisconnectReason, string) {
	for _, child := range e.children {
		cbs = child.collectDisconnectLocked(cbs)
	}
	if e.onDisconnect != nil {
		cbs = append(cbs, e.onDisconnect)
	}
	return cbs
}
