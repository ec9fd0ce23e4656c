package mpdmux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jimsnab/go-lane"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestClient(t *testing.T, handler func(cmd string) string) (*Client, *mockServer) {
	t.Helper()
	ms := startMockServer(t, handler)
	c := NewClient(lane.NewTestingLane(context.Background()))
	t.Cleanup(c.Close)
	if err := c.Connect(testContext(t), ms.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c, ms
}

// countingStatusHandler numbers successive status replies so tests can tell
// which command a reply belonged to.
func countingStatusHandler() func(cmd string) string {
	var mu sync.Mutex
	n := 0
	return func(cmd string) string {
		if cmd == "status" {
			mu.Lock()
			n++
			v := n
			mu.Unlock()
			return fmt.Sprintf("volume: %d\nOK\n", v)
		}
		return "OK\n"
	}
}

func TestConnectGreeting(t *testing.T) {
	c, ms := newTestClient(t, nil)

	if got := c.Version(); got != "0.23.5" {
		t.Errorf("version %q, want %q", got, "0.23.5")
	}

	// With the wire silent the client parks an implicit idle command.
	waitFor(t, "client to go idle", func() bool { return c.State() == StateIdle })
	waitFor(t, "idle on the wire", ms.idleOutstanding)
}

func TestStatusQuery(t *testing.T) {
	c, _ := newTestClient(t, nil)

	value, err := c.Root().Do(testContext(t), "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := value.(Attrs)["volume"]; got != "50" {
		t.Errorf("volume %q, want %q", got, "50")
	}
}

// TestFIFOOrder checks that replies resolve in exactly wire order, no
// matter in which order the callers wait.
func TestFIFOOrder(t *testing.T) {
	c, _ := newTestClient(t, countingStatusHandler())
	ctx := testContext(t)

	reqs := make([]*Request, 3)
	for i := range reqs {
		r, err := c.Root().Send(mustCommand(t, "status"))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		reqs[i] = r
	}

	for _, i := range []int{2, 0, 1} {
		value, err := reqs[i].Wait(ctx)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		want := fmt.Sprintf("%d", i+1)
		if got := value.(Attrs)["volume"]; got != want {
			t.Errorf("request %d resolved with volume %q, want %q", i, got, want)
		}
	}
}

// TestNoidleInterrupt checks that a command issued while idle is preceded
// by exactly one noidle token and that the idle reply resolves first.
func TestNoidleInterrupt(t *testing.T) {
	c, ms := newTestClient(t, nil)
	waitFor(t, "idle on the wire", ms.idleOutstanding)

	if _, err := c.Root().Do(testContext(t), "ping"); err != nil {
		t.Fatalf("ping: %v", err)
	}

	lines := ms.receivedLines()
	idle, noidle, ping := -1, -1, -1
	for i, line := range lines {
		switch line {
		case IdleCommand:
			if idle < 0 {
				idle = i
			}
		case NoidleCommand:
			noidle = i
		case "ping":
			ping = i
		}
	}
	if idle < 0 || noidle < 0 || ping < 0 {
		t.Fatalf("missing wire traffic: %v", lines)
	}
	if !(idle < noidle && noidle < ping) {
		t.Errorf("wire order idle=%d noidle=%d ping=%d", idle, noidle, ping)
	}
	if n := ms.receivedCount(NoidleCommand); n != 1 {
		t.Errorf("noidle sent %d times, want 1", n)
	}

	// The wire falls silent again, so a fresh idle goes out.
	waitFor(t, "idle re-issue", func() bool { return ms.receivedCount(IdleCommand) == 2 })
}

func TestCommandListSuccess(t *testing.T) {
	handler := func(cmd string) string {
		if strings.HasPrefix(cmd, ListBeginCommand) {
			return "volume: 50\nlist_OK\nfile: x.mp3\nlist_OK\nOK\n"
		}
		return "OK\n"
	}
	c, _ := newTestClient(t, handler)

	list := NewCommandList(mustCommand(t, "status"), mustCommand(t, "currentsong"))
	results, err := c.Root().DoList(testContext(t), list)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if got := results[0].(Attrs)["volume"]; got != "50" {
		t.Errorf("member 0 volume %q", got)
	}
	if got := results[1].(Attrs)["file"]; got != "x.mp3" {
		t.Errorf("member 1 file %q", got)
	}
}

func TestCommandListFailure(t *testing.T) {
	handler := func(cmd string) string {
		if strings.HasPrefix(cmd, ListBeginCommand) {
			return "list_OK\nACK [50@1] {play} No such song\n"
		}
		return "OK\n"
	}
	c, _ := newTestClient(t, handler)

	list := NewCommandList(
		mustCommand(t, "ping"),
		mustCommand(t, "play", 99),
		mustCommand(t, "ping"),
	)
	_, err := c.Root().DoList(testContext(t), list)
	var re *ReplyError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want ReplyError", err)
	}
	if re.Code != 50 || re.Index != 1 || re.Command != "play" {
		t.Errorf("unexpected reply error %+v", re)
	}
	if re.Line != "play 99" {
		t.Errorf("failing member line %q, want %q", re.Line, "play 99")
	}
}

func TestCommandListEmptyBatch(t *testing.T) {
	handler := func(cmd string) string {
		if strings.HasPrefix(cmd, ListBeginCommand) {
			return "OK\n"
		}
		return "OK\n"
	}
	c, _ := newTestClient(t, handler)

	results, err := c.Root().DoList(testContext(t), NewCommandList())
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

// TestSubscribeImmediate checks that a subscription satisfiable from the
// current connection state resolves without any bytes on the wire.
func TestSubscribeImmediate(t *testing.T) {
	c, ms := newTestClient(t, nil)
	waitFor(t, "idle on the wire", ms.idleOutstanding)
	before := len(ms.receivedLines())

	r, err := c.Root().Subscribe(Connect, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ev, err := r.WaitEvent(testContext(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ev != Connect {
		t.Errorf("got %v, want connect", ev)
	}
	if after := len(ms.receivedLines()); after != before {
		t.Errorf("subscription wrote to the wire: %d -> %d lines", before, after)
	}
}

func TestSubscribeNotification(t *testing.T) {
	c, ms := newTestClient(t, nil)

	r, err := c.Root().Subscribe(Player|Mixer, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, "idle on the wire", ms.idleOutstanding)
	ms.push("mixer")

	ev, err := r.WaitEvent(testContext(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ev != Mixer {
		t.Errorf("got %v, want mixer", ev)
	}

	// After dispatch the engine listens again.
	waitFor(t, "idle re-issue", func() bool { return ms.receivedCount(IdleCommand) >= 2 })
}

// TestSubscribeOnePassDispatch checks that every matching subscription
// resolves on a single notification.
func TestSubscribeOnePassDispatch(t *testing.T) {
	c, ms := newTestClient(t, nil)
	ctx := testContext(t)

	r1, _ := c.Root().Subscribe(Player, 0)
	r2, _ := c.Root().Subscribe(Player|Options, 0)
	waitFor(t, "idle on the wire", ms.idleOutstanding)
	ms.push("player")

	for i, r := range []*Request{r1, r2} {
		ev, err := r.WaitEvent(ctx)
		if err != nil {
			t.Fatalf("subscription %d: %v", i, err)
		}
		if ev != Player {
			t.Errorf("subscription %d got %v, want player", i, ev)
		}
	}
}

func TestSubscribeTimeout(t *testing.T) {
	c, _ := newTestClient(t, nil)

	r, err := c.Root().Subscribe(Player, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ev, err := r.WaitEvent(testContext(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ev != Timeout {
		t.Errorf("got %v, want timeout", ev)
	}

	c.mu.Lock()
	pending := len(c.waiting)
	c.mu.Unlock()
	if pending != 0 {
		t.Errorf("%d subscriptions still pending after timeout", pending)
	}
}

// TestSubscribeResolvedStopsTimer checks that a subscription resolved by a
// notification cannot later fire its timeout.
func TestSubscribeResolvedStopsTimer(t *testing.T) {
	c, ms := newTestClient(t, nil)

	r, _ := c.Root().Subscribe(Player, 100*time.Millisecond)
	waitFor(t, "idle on the wire", ms.idleOutstanding)
	ms.push("player")

	ev, err := r.WaitEvent(testContext(t))
	if err != nil || ev != Player {
		t.Fatalf("got (%v, %v), want player", ev, err)
	}

	time.Sleep(150 * time.Millisecond)
	if value, _ := r.Result(); value.(Event) != Player {
		t.Errorf("result changed after timer deadline: %v", value)
	}
}

func TestCancelPendingSubscription(t *testing.T) {
	c, ms := newTestClient(t, nil)
	waitFor(t, "idle on the wire", ms.idleOutstanding)
	before := len(ms.receivedLines())

	r, _ := c.Root().Subscribe(Player, 0)
	r.Cancel()

	_, err := r.Wait(testContext(t))
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("got %v, want ErrCancelled", err)
	}
	c.mu.Lock()
	pending := len(c.waiting)
	c.mu.Unlock()
	if pending != 0 {
		t.Errorf("%d subscriptions still pending after cancel", pending)
	}
	if after := len(ms.receivedLines()); after != before {
		t.Errorf("cancel wrote to the wire: %d -> %d lines", before, after)
	}
}

// TestCancelActiveKeepsFIFO checks that cancelling an active request does
// not desynchronize the reply stream: its reply is consumed and discarded
// in order, and later requests decode correctly.
func TestCancelActiveKeepsFIFO(t *testing.T) {
	c, _ := newTestClient(t, countingStatusHandler())
	ctx := testContext(t)

	r1, err := c.Root().Send(mustCommand(t, "status"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	r1.Cancel()

	value, err := c.Root().Do(ctx, "status")
	if err != nil {
		t.Fatalf("second status: %v", err)
	}
	if got := value.(Attrs)["volume"]; got != "2" {
		t.Errorf("second status got volume %q, want %q", got, "2")
	}
}

func TestMidFlightDisconnect(t *testing.T) {
	handler := func(cmd string) string {
		if cmd == "status" {
			return "" // leave outstanding
		}
		return "OK\n"
	}
	c, ms := newTestClient(t, handler)
	ctx := testContext(t)

	var mu sync.Mutex
	var reasons []DisconnectReason
	c.Root().Sub().SetCallbacks(nil, func(reason DisconnectReason, message string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})

	reqs := make([]*Request, 3)
	for i := range reqs {
		r, err := c.Root().Send(mustCommand(t, "status"))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		reqs[i] = r
	}
	waitFor(t, "requests on the wire", func() bool { return ms.receivedCount("status") == 3 })

	ms.closeClientConns()

	for i, r := range reqs {
		_, err := r.Wait(ctx)
		var ce *ConnectionError
		if !errors.As(err, &ce) {
			t.Errorf("request %d: got %v, want ConnectionError", i, err)
		} else if ce.Reason != ReasonError {
			t.Errorf("request %d failed with reason %v, want ReasonError", i, ce.Reason)
		}
	}

	waitFor(t, "disconnect notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reasons) > 0
	})
	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 || reasons[0] != ReasonError {
		t.Errorf("got reasons %v, want exactly one ReasonError", reasons)
	}
}

func TestDisconnectReasons(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := testContext(t)

	var mu sync.Mutex
	var reasons []DisconnectReason
	c.Root().Sub().SetCallbacks(nil, func(reason DisconnectReason, message string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})

	if err := c.Reconnect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	c.Disconnect()
	c.Disconnect() // idempotent
	if err := c.Reconnect(ctx); err != nil {
		t.Fatalf("second reconnect: %v", err)
	}
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	want := []DisconnectReason{ReasonReconnect, ReasonRequested, ReasonShutdown}
	if len(reasons) != len(want) {
		t.Fatalf("got reasons %v, want %v", reasons, want)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Fatalf("got reasons %v, want %v", reasons, want)
		}
	}
}

func TestDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	c := NewClient(lane.NewTestingLane(context.Background()))
	t.Cleanup(c.Close)

	var mu sync.Mutex
	var reasons []DisconnectReason
	c.Root().SetCallbacks(nil, func(reason DisconnectReason, message string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})

	if err := c.Connect(testContext(t), addr); err == nil {
		t.Fatal("connect to closed port succeeded")
	} else if !IsConnectionError(err) {
		t.Errorf("got %v, want ConnectionError", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state %v, want disconnected", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 || reasons[0] != ReasonFailedConnect {
		t.Errorf("got reasons %v, want exactly one ReasonFailedConnect", reasons)
	}
}

func TestPasswordFlow(t *testing.T) {
	ms := startMockServer(t, nil)
	c := NewClient(lane.NewTestingLane(context.Background()))
	t.Cleanup(c.Close)

	var mu sync.Mutex
	connects := 0
	c.Root().SetCallbacks(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	}, nil)

	if err := c.Connect(testContext(t), "secret@"+ms.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if n := ms.receivedCount(`password "secret"`); n != 1 {
		t.Errorf("password sent %d times, want 1", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if connects != 1 {
		t.Errorf("connect callback fired %d times, want 1", connects)
	}
}

func TestPasswordRejected(t *testing.T) {
	handler := func(cmd string) string {
		if strings.HasPrefix(cmd, "password") {
			return "ACK [3@0] {password} incorrect password\n"
		}
		return "OK\n"
	}
	ms := startMockServer(t, handler)
	c := NewClient(lane.NewTestingLane(context.Background()))
	t.Cleanup(c.Close)

	var mu sync.Mutex
	connects := 0
	var reasons []DisconnectReason
	c.Root().SetCallbacks(
		func() {
			mu.Lock()
			connects++
			mu.Unlock()
		},
		func(reason DisconnectReason, message string) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
		})

	err := c.Connect(testContext(t), "wrong@"+ms.addr())
	if err == nil {
		t.Fatal("connect succeeded despite rejected password")
	}
	var re *ReplyError
	if !errors.As(err, &re) {
		t.Errorf("got %v, want wrapped ReplyError", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state %v, want disconnected", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if connects != 0 {
		t.Errorf("connect callback fired %d times, want 0", connects)
	}
	if len(reasons) != 1 || reasons[0] != ReasonPassword {
		t.Errorf("got reasons %v, want exactly one ReasonPassword", reasons)
	}
}

func TestSetCallbacksReplaysConnect(t *testing.T) {
	c, _ := newTestClient(t, nil)

	fired := false
	c.Root().Sub().SetCallbacks(func() { fired = true }, nil)
	if !fired {
		t.Error("connect callback not replayed on a live connection")
	}
}

func TestExecutorClose(t *testing.T) {
	handler := func(cmd string) string {
		if cmd == "status" {
			return "" // leave outstanding
		}
		return "OK\n"
	}
	c, _ := newTestClient(t, handler)
	ctx := testContext(t)

	child := c.Root().Sub()
	grandchild := child.Sub()

	r, err := grandchild.Send(mustCommand(t, "status"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sub, err := child.Subscribe(Player, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	child.Close()

	if _, err := r.Wait(ctx); !IsConnectionError(err) {
		t.Errorf("open request: got %v, want ConnectionError", err)
	}
	if _, err := sub.Wait(ctx); !IsConnectionError(err) {
		t.Errorf("pending subscription: got %v, want ConnectionError", err)
	}
	if _, err := grandchild.Send(mustCommand(t, "ping")); err == nil {
		t.Error("send on a transitively closed scope succeeded")
	}
	if _, err := child.Send(mustCommand(t, "ping")); err == nil {
		t.Error("send on a closed scope succeeded")
	}

	c.mu.Lock()
	pending := len(c.waiting)
	c.mu.Unlock()
	if pending != 0 {
		t.Errorf("%d subscriptions still pending after scope close", pending)
	}
}

func TestProtocolErrorKeepsConnection(t *testing.T) {
	handler := func(cmd string) string {
		if cmd == "status" {
			return "garbage without separator\nOK\n"
		}
		return "OK\n"
	}
	c, _ := newTestClient(t, handler)
	ctx := testContext(t)

	_, err := c.Root().Do(ctx, "status")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want ProtocolError", err)
	}

	// The block was consumed through its terminator; the connection is
	// still synchronized and usable.
	if _, err := c.Root().Do(ctx, "ping"); err != nil {
		t.Errorf("connection broken after protocol error: %v", err)
	}
}

// TestConcurrentCallers hammers one connection from several goroutines and
// checks every caller gets a well-formed reply.
func TestConcurrentCallers(t *testing.T) {
	c, _ := newTestClient(t, countingStatusHandler())
	ctx := testContext(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := c.Root().Do(ctx, "status")
			if err != nil {
				errs <- err
				return
			}
			if value.(Attrs)["volume"] == "" {
				errs <- fmt.Errorf("empty volume in %v", value)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
