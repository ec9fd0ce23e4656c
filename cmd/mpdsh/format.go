package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/mpdmux/mpdmux"
	"github.com/mpdmux/mpdmux/serverstatus"
)

// printValue renders a decoded reply by its shape.
func printValue(w io.Writer, value any) {
	switch v := value.(type) {
	case nil, bool:
		fmt.Fprintln(w, "OK")
	case string:
		fmt.Fprintln(w, v)
	case []string:
		for _, s := range v {
			fmt.Fprintln(w, s)
		}
	case mpdmux.Attrs:
		printAttrs(w, v)
	case []mpdmux.Attrs:
		for i, attrs := range v {
			if i > 0 {
				fmt.Fprintln(w)
			}
			printAttrs(w, attrs)
		}
	case map[string][]string:
		for _, key := range sortedKeys(v) {
			for _, s := range v[key] {
				fmt.Fprintf(w, "%s: %s\n", key, s)
			}
		}
	case map[string][]mpdmux.Attrs:
		for _, marker := range sortedKeys(v) {
			fmt.Fprintf(w, "%s:\n", marker)
			for _, attrs := range v[marker] {
				printAttrs(w, attrs)
				fmt.Fprintln(w)
			}
		}
	case []mpdmux.KeyValue:
		for _, f := range v {
			fmt.Fprintf(w, "%s: %s\n", f.Key, f.Value)
		}
	case []any:
		for i, member := range v {
			fmt.Fprintf(w, "[%d]\n", i)
			printValue(w, member)
		}
	default:
		fmt.Fprintf(w, "%v\n", v)
	}
}

func printAttrs(w io.Writer, attrs mpdmux.Attrs) {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s: %s\n", key, attrs[key])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// printStatus renders the mirrored server status.
func printStatus(w io.Writer, s serverstatus.Status, song mpdmux.Attrs) {
	state := s.State
	if state == "" {
		state = "unknown"
	}
	fmt.Fprintf(w, "state: %s\n", state)
	if s.Volume >= 0 {
		fmt.Fprintf(w, "volume: %d%%\n", s.Volume)
	}
	if s.Duration > 0 {
		fmt.Fprintf(w, "position: %.1f/%.1fs\n", s.Elapsed, s.Duration)
	}
	if s.Bitrate != "" {
		fmt.Fprintf(w, "bitrate: %s kbps\n", s.Bitrate)
	}
	if s.UpdatingDB != "" {
		fmt.Fprintf(w, "updating database (job %s)\n", s.UpdatingDB)
	}
	fmt.Fprintf(w, "options: consume %s, random %s, repeat %s, single %s\n",
		onOff(s.Consume), onOff(s.Random), onOff(s.Repeat), onOff(s.Single))
	if len(song) > 0 {
		fmt.Fprintln(w, "song:")
		printAttrs(w, song)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
