// mpdsh is an interactive shell for the MPD protocol. It connects to a
// server, keeps a live status mirror, and lets the user issue any
// catalogued protocol command, batch commands, or block on subsystem
// change notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jimsnab/go-cmdline"
	"github.com/jimsnab/go-lane"
	"github.com/mpdmux/mpdmux"
	"github.com/mpdmux/mpdmux/serverstatus"
)

func main() {
	cl := cmdline.NewCommandLine()

	cl.RegisterCommand(
		mainHandler,
		"~ [<string-spec>]?Runs an interactive MPD shell. <spec> is [password@]host[:port]; the default is $MPD_HOST, then localhost.",
		"[--port <int-port>]?Specify the TCP port used when <spec> names none. The default is 6600.",
		"[--trace]?Enable trace logging, including wire traffic",
		"[--quiet]?Log warnings and errors only",
	)

	args := os.Args[1:] // exclude executable name in os.Args[0]
	err := cl.Process(args)
	if err != nil {
		cl.Help(err, "mpdsh", args)
	}
}

func mainHandler(args cmdline.Values) error {
	l := lane.NewLogLane(context.Background())
	switch {
	case args["--trace"].(bool):
		// trace is the lane default
	case args["--quiet"].(bool):
		l.SetLogLevel(lane.LogLevelWarn)
	default:
		l.SetLogLevel(lane.LogLevelInfo)
	}

	port := args["port"].(int)
	if port == 0 {
		port = mpdmux.DefaultPort
	}
	spec := args["spec"].(string)

	client := mpdmux.NewClient(l, mpdmux.WithDefaultPort(port))
	defer client.Close()
	watcher := serverstatus.New(l, client.Root())
	defer watcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := client.Connect(ctx, spec)
	cancel()
	if err != nil {
		// The shell still starts; the user can retry with :connect.
		fmt.Fprintf(os.Stderr, "connect failed: %s\n", err)
	}

	con := newConsole(l, client, watcher, os.Stdout)
	editor := NewLineEditor()
	defer editor.Close()
	return con.run(editor)
}
