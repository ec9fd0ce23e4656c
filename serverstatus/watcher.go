// Package serverstatus maintains a live mirror of an MPD server's playback
// state. A Watcher owns a sub-executor on the connection, refreshes its
// snapshot whenever the player, mixer, options or update subsystems change,
// and pushes edits (volume, elapsed position, playback options) back to the
// server.
package serverstatus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/jimsnab/go-lane"
	"github.com/mpdmux/mpdmux"
)

// watchEvents is the subsystem mask the snapshot depends on.
const watchEvents = mpdmux.Player | mpdmux.Mixer | mpdmux.Options | mpdmux.Update

// longPoll is the refresh interval while nothing is playing.
const longPoll = 30 * time.Second

// Status is a typed snapshot of the server's status reply. Volume is -1
// when the server reports no mixer.
type Status struct {
	State      string
	Bitrate    string
	UpdatingDB string
	Partition  string
	Elapsed    float64
	Duration   float64
	Volume     int
	Consume    bool
	Random     bool
	Repeat     bool
	Single     bool
}

// statusFromAttrs converts a decoded status reply into a Status snapshot.
// Absent or malformed fields keep their zero value, except Volume which
// defaults to -1.
func statusFromAttrs(attrs mpdmux.Attrs) Status {
	s := Status{
		State:      attrs["state"],
		Bitrate:    attrs["bitrate"],
		UpdatingDB: attrs["updating_db"],
		Partition:  attrs["partition"],
		Volume:     -1,
	}
	if v, err := strconv.ParseFloat(attrs["elapsed"], 64); err == nil {
		s.Elapsed = v
	}
	if v, err := strconv.ParseFloat(attrs["duration"], 64); err == nil {
		s.Duration = v
	}
	if v, err := strconv.Atoi(attrs["volume"]); err == nil {
		s.Volume = v
	}
	s.Consume = attrs["consume"] == "1"
	s.Random = attrs["random"] == "1"
	s.Repeat = attrs["repeat"] == "1"
	s.Single = attrs["single"] == "1"
	return s
}

// watchTick is the subscription timeout for the next refresh round. While
// playing it lands just past the next whole elapsed second, so an elapsed
// display driven from the snapshot ticks evenly; otherwise it is a long
// poll.
func watchTick(s Status) time.Duration {
	if s.State != "play" {
		return longPoll
	}
	d := time.Duration((math.Floor(s.Elapsed+1.5) - s.Elapsed) * float64(time.Second))
	if d <= 0 {
		d = time.Second
	}
	return d
}

// optionNames are the boolean playback options SetOption accepts.
var optionNames = map[string]bool{
	"consume": true,
	"random":  true,
	"repeat":  true,
	"single":  true,
}

// Watcher mirrors the server's status and current song. It is safe for
// concurrent use.
type Watcher struct {
	l    lane.Lane
	exec *mpdmux.Executor

	mu       sync.Mutex
	status   Status
	song     mpdmux.Attrs
	onChange func(Status, mpdmux.Attrs)

	// watchGen invalidates the refresh goroutine of a stale connection;
	// volumeGen abandons a superseded volume convergence loop.
	watchGen  int
	volumeGen int
}

// New builds a watcher on its own sub-executor of exec. The mirror starts
// refreshing as soon as the underlying client connects; until then the
// snapshot is empty.
func New(l lane.Lane, exec *mpdmux.Executor) *Watcher {
	w := &Watcher{l: l, exec: exec.Sub(), status: Status{Volume: -1}}
	w.exec.SetCallbacks(w.connected, w.disconnected)
	return w
}

// Close stops the watcher and releases its executor scope.
func (w *Watcher) Close() {
	w.mu.Lock()
	w.watchGen++
	w.mu.Unlock()
	w.exec.Close()
}

// Current returns the latest status snapshot.
func (w *Watcher) Current() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Song returns the latest current-song attributes, or nil when nothing is
// loaded.
func (w *Watcher) Song() mpdmux.Attrs {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.song)
}

// OnChange registers a callback fired after each snapshot change. The
// callback runs on the watcher's refresh goroutine and must not block.
func (w *Watcher) OnChange(f func(Status, mpdmux.Attrs)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = f
}

func (w *Watcher) connected() {
	w.mu.Lock()
	w.watchGen++
	gen := w.watchGen
	w.mu.Unlock()
	w.l.Debugf("status watcher starting")
	go w.watch(gen)
}

func (w *Watcher) disconnected(reason mpdmux.DisconnectReason, message string) {
	w.mu.Lock()
	w.watchGen++
	w.mu.Unlock()
	w.l.Debugf("status watcher stopped: %s", reason)
	w.update(Status{Volume: -1}, nil)
}

// watch is the per-connection refresh loop: snapshot, then block on a
// subscription until a relevant subsystem changes or the tick elapses. The
// current song is refetched, in the same wire transaction as the status,
// only after a player change.
func (w *Watcher) watch(gen int) {
	ctx := context.Background()
	lastEvents := watchEvents
	for {
		w.mu.Lock()
		stale := gen != w.watchGen
		w.mu.Unlock()
		if stale {
			return
		}

		var status Status
		var song mpdmux.Attrs
		if lastEvents&mpdmux.Player != 0 {
			list, err := snapshotBatch()
			if err != nil {
				w.finish(err)
				return
			}
			results, err := w.exec.DoList(ctx, list)
			if err != nil {
				w.finish(err)
				return
			}
			status = statusFromAttrs(results[0].(mpdmux.Attrs))
			song = results[1].(mpdmux.Attrs)
		} else {
			value, err := w.exec.Do(ctx, "status")
			if err != nil {
				w.finish(err)
				return
			}
			status = statusFromAttrs(value.(mpdmux.Attrs))
			song = w.Song()
		}
		if status.State == "stop" {
			song = nil
		}
		w.update(status, song)

		r, err := w.exec.Subscribe(watchEvents, watchTick(status))
		if err != nil {
			w.finish(err)
			return
		}
		ev, err := r.WaitEvent(ctx)
		if err != nil {
			w.finish(err)
			return
		}
		lastEvents = ev
	}
}

func snapshotBatch() (*mpdmux.CommandList, error) {
	status, err := mpdmux.NewCommand("status")
	if err != nil {
		return nil, err
	}
	currentsong, err := mpdmux.NewCommand("currentsong")
	if err != nil {
		return nil, err
	}
	return mpdmux.NewCommandList(status, currentsong), nil
}

// finish logs the end of a refresh loop. A connection error is the
// ordinary way the loop terminates; anything else is a real failure.
func (w *Watcher) finish(err error) {
	if mpdmux.IsConnectionError(err) {
		w.l.Debugf("status watcher finished: %s", err)
	} else {
		w.l.Errorf("status watcher failed: %s", err)
	}
}

// update installs a new snapshot and notifies the change callback when
// anything differed.
func (w *Watcher) update(status Status, song mpdmux.Attrs) {
	w.mu.Lock()
	changed := status != w.status || !maps.Equal(song, w.song)
	w.status = status
	w.song = song
	cb := w.onChange
	w.mu.Unlock()
	if changed && cb != nil {
		cb(status, song)
	}
}

// SetVolume drives the server's volume to value with a write-then-verify
// loop: setvol, read back, and if the server has not converged yet, wait
// for the next player or mixer change and reissue. A setvol rejected
// during a playback transition is retried after the player settles. A
// later SetVolume supersedes an in-flight one, which then returns nil.
func (w *Watcher) SetVolume(ctx context.Context, value int) error {
	w.mu.Lock()
	w.volumeGen++
	gen := w.volumeGen
	w.mu.Unlock()
	w.l.Debugf("setting volume to %d", value)

	for {
		w.mu.Lock()
		superseded := gen != w.volumeGen
		w.mu.Unlock()
		if superseded {
			return nil
		}

		if _, err := w.exec.Do(ctx, "setvol", value); err != nil {
			var re *mpdmux.ReplyError
			if !errors.As(err, &re) {
				return err
			}
			if err := w.waitEvent(ctx, mpdmux.Player); err != nil {
				return err
			}
			continue
		}

		status, err := w.exec.Do(ctx, "status")
		if err != nil {
			return err
		}
		reported, ok := status.(mpdmux.Attrs)["volume"]
		if !ok {
			// The mixer went away; nothing to converge on.
			return nil
		}
		if n, err := strconv.Atoi(reported); err == nil && n == value {
			w.l.Debugf("volume converged at %d", value)
			return nil
		}
		if err := w.waitEvent(ctx, mpdmux.Player|mpdmux.Mixer); err != nil {
			return err
		}
	}
}

// SetElapsed seeks within the current song.
func (w *Watcher) SetElapsed(ctx context.Context, seconds float64) error {
	_, err := w.exec.Do(ctx, "seekcur", seconds)
	return err
}

// SetOption switches one of the boolean playback options: consume, random,
// repeat or single.
func (w *Watcher) SetOption(ctx context.Context, name string, on bool) error {
	if !optionNames[name] {
		return fmt.Errorf("unknown playback option %q", name)
	}
	_, err := w.exec.Do(ctx, name, on)
	return err
}

func (w *Watcher) waitEvent(ctx context.Context, mask mpdmux.Event) error {
	r, err := w.exec.Subscribe(mask, 0)
	if err != nil {
		return err
	}
	if _, err := r.WaitEvent(ctx); err != nil {
		r.Cancel()
		return err
	}
	return nil
}
