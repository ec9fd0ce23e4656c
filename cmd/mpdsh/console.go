package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jimsnab/go-lane"
	"github.com/mpdmux/mpdmux"
	"github.com/mpdmux/mpdmux/serverstatus"
)

// commandTimeout bounds one console command round trip. Subscriptions
// (:idle) are exempt; they block until an event arrives.
const commandTimeout = 30 * time.Second

const helpText = `Commands:
  <command> [args...]   issue a protocol command (quote args with spaces)
  :connect [spec]       connect to [password@]host[:port]
  :disconnect           drop the connection
  :status               show the mirrored player status
  :idle [subsystem...]  block until a subsystem changes (default: any)
  :batch                start collecting a command list
  :end                  send the collected command list
  :help                 show this help
  :quit                 exit
`

// lineSource is the input side of the console loop.
type lineSource interface {
	GetLine(prompt string) (string, error)
}

// console evaluates shell input against one client connection.
type console struct {
	l       lane.Lane
	client  *mpdmux.Client
	watcher *serverstatus.Watcher
	out     io.Writer

	inBatch bool
	batch   []*mpdmux.Command
}

func newConsole(l lane.Lane, client *mpdmux.Client, watcher *serverstatus.Watcher, out io.Writer) *console {
	return &console{l: l, client: client, watcher: watcher, out: out}
}

// run reads and evaluates lines until :quit or end of input.
func (con *console) run(src lineSource) error {
	for {
		line, err := src.GetLine(con.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(con.out)
				return nil
			}
			return err
		}
		if con.execute(strings.TrimSpace(line)) {
			return nil
		}
	}
}

func (con *console) prompt() string {
	if con.inBatch {
		return fmt.Sprintf("mpd %s [batch %d]> ", con.client.State(), len(con.batch))
	}
	return fmt.Sprintf("mpd %s> ", con.client.State())
}

// execute evaluates one input line and reports whether the console should
// exit.
func (con *console) execute(line string) (quit bool) {
	if line == "" {
		return false
	}
	tokens, err := tokenize(line)
	if err != nil || len(tokens) == 0 {
		if err != nil {
			con.errorf("%s", err)
		}
		return false
	}

	switch tokens[0] {
	case ":quit", ":q":
		return true

	case ":help", ":h":
		fmt.Fprint(con.out, helpText)

	case ":connect":
		spec := ""
		if len(tokens) > 1 {
			spec = tokens[1]
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		err := con.client.Connect(ctx, spec)
		cancel()
		if err != nil {
			con.errorf("%s", err)
		} else {
			fmt.Fprintf(con.out, "connected, MPD protocol %s\n", con.client.Version())
		}

	case ":disconnect":
		con.client.Disconnect()

	case ":status":
		printStatus(con.out, con.watcher.Current(), con.watcher.Song())

	case ":idle":
		con.awaitChange(tokens[1:])

	case ":batch":
		if con.inBatch {
			con.errorf("already collecting a batch; finish it with :end")
			return false
		}
		con.inBatch = true
		con.batch = nil

	case ":end":
		if !con.inBatch {
			con.errorf("no batch in progress; start one with :batch")
			return false
		}
		list := mpdmux.NewCommandList(con.batch...)
		con.inBatch = false
		con.batch = nil
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		results, err := con.client.Root().DoList(ctx, list)
		cancel()
		if err != nil {
			con.errorf("%s", err)
			return false
		}
		printValue(con.out, results)

	default:
		if strings.HasPrefix(tokens[0], ":") {
			con.errorf("unknown directive %s; :help lists them", tokens[0])
			return false
		}
		con.issue(tokens)
	}
	return false
}

// issue builds a catalogued command from the tokens and either queues it
// into the open batch or sends it and prints the decoded reply.
func (con *console) issue(tokens []string) {
	args := make([]any, len(tokens)-1)
	for i, tok := range tokens[1:] {
		args[i] = tok
	}
	cmd, err := mpdmux.NewCommand(tokens[0], args...)
	if err != nil {
		con.errorf("%s", err)
		return
	}

	if con.inBatch {
		con.batch = append(con.batch, cmd)
		fmt.Fprintf(con.out, "queued (%d)\n", len(con.batch))
		return
	}

	r, err := con.client.Root().Send(cmd)
	if err != nil {
		con.errorf("%s", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	value, err := r.Wait(ctx)
	cancel()
	if err != nil {
		con.errorf("%s", err)
		return
	}
	printValue(con.out, value)
}

// awaitChange blocks on a subsystem subscription and prints what fired.
func (con *console) awaitChange(names []string) {
	mask := mpdmux.Any
	if len(names) > 0 {
		mask = mpdmux.None
		for _, name := range names {
			ev := mpdmux.SubsystemEvent(name)
			if ev == mpdmux.None {
				con.errorf("unknown subsystem %q", name)
				return
			}
			mask |= ev
		}
	}

	r, err := con.client.Root().Subscribe(mask, 0)
	if err != nil {
		con.errorf("%s", err)
		return
	}
	fmt.Fprintf(con.out, "waiting for %s...\n", mask)
	ev, err := r.WaitEvent(context.Background())
	if err != nil {
		con.errorf("%s", err)
		return
	}
	fmt.Fprintf(con.out, "changed: %s\n", ev)
}

func (con *console) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	con.l.Debugf("console: %s", msg)
	fmt.Fprintf(con.out, "error: %s\n", msg)
}

// tokenize splits a console line on whitespace, keeping double-quoted
// spans together. Inside quotes, backslash escapes the next rune.
func tokenize(line string) ([]string, error) {
	var tokens []string
	var b strings.Builder
	inQuote := false
	escaped := false
	started := false

	flush := func() {
		if started {
			tokens = append(tokens, b.String())
			b.Reset()
			started = false
		}
	}

	for _, r := range line {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			b.WriteRune(r)
			started = true
		}
	}
	if inQuote || escaped {
		return nil, errors.New("unterminated quote")
	}
	flush()
	return tokens, nil
}
