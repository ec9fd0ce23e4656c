// Package mpdmux is a multiplexing client engine for the MPD (Music Player
// Daemon) control protocol.
//
// Any number of concurrent callers share one TCP connection. The engine
// serializes their commands onto the strictly-ordered, one-command-at-a-time
// wire protocol, matches each reply to its command in FIFO order, and keeps a
// perpetual "idle" subscription outstanding whenever the wire would otherwise
// be silent, so the server's push notifications are always being listened
// for. When a caller needs the wire while the engine is idle, the outstanding
// idle command is interrupted transparently with "noidle" and resumed
// afterwards.
//
// # Protocol Overview
//
// The MPD protocol is text-based and line-oriented, over a single TCP stream:
//
//	Greeting (once):  OK MPD <version>\n
//	Command:          <name> <arg>...\n       (string args double-quoted)
//	Success reply:    zero or more "key: value" lines, then OK\n
//	Error reply:      ACK [<code>@<index>] {<command>} <message>\n
//	Batch:            command_list_ok_begin ... command_list_end, members
//	                  answered with list_OK, the whole batch with one OK
//	Idle:             idle\n blocks until a subsystem changes; each change
//	                  is reported as "changed: <subsystem>". The client may
//	                  interrupt with noidle\n.
//
// # Basic Usage
//
// Create a client, connect, and issue commands through an executor:
//
//	l := lane.NewLogLane(context.Background())
//	client := mpdmux.NewClient(l)
//	defer client.Close()
//
//	if err := client.Connect(ctx, "localhost:6600"); err != nil {
//	    log.Fatal(err)
//	}
//
//	status, err := client.Root().Do(ctx, "status")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(status.(mpdmux.Attrs)["volume"])
//
// The connection spec has the form "[password@]host[:port]"; the host
// defaults to $MPD_HOST, the port to 6600.
//
// # Executors
//
// An Executor is a lifetime scope for requests and connection observers.
// Executors nest: Sub returns a child whose requests and callbacks die with
// it. Closing a scope fails its open requests with a connection error and
// detaches it; the client owns the root scope.
//
//	exec := client.Root().Sub()
//	defer exec.Close()
//	exec.SetCallbacks(onConnect, onDisconnect)
//
// # Subscriptions
//
// Subscribe waits for server-side state changes without occupying the wire:
//
//	req, _ := exec.Subscribe(mpdmux.Player|mpdmux.Mixer, 30*time.Second)
//	ev, err := req.WaitEvent(ctx)
//
// The result is the subset of the mask that fired, or Timeout. The synthetic
// Connect and Idle bits resolve immediately when the connection is already
// in the matching state.
//
// # Batches
//
// A CommandList is sent as one wire transaction and resolves to the ordered
// per-member results, or fails atomically at the first failing member:
//
//	status, _ := mpdmux.NewCommand("status")
//	song, _ := mpdmux.NewCommand("currentsong")
//	results, err := exec.DoList(ctx, mpdmux.NewCommandList(status, song))
//
// # Thread Safety
//
// The Client and Executor types are safe for concurrent use from multiple
// goroutines. Replies are delivered to callers in exactly the order the
// commands were written to the wire, regardless of which goroutine issued
// them or in what order they wait.
package mpdmux
