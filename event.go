package mpdmux

import (
	"fmt"
	"strings"
)

// Event is a bitmask of server subsystems plus synthetic connection events.
// A subscription's mask selects the bits it watches; it resolves with the
// subset that actually fired.
type Event uint

const (
	// Database fires when the song database has been modified.
	Database Event = 1 << iota
	// Update fires when a database update job starts or finishes.
	Update
	// StoredPlaylist fires when a stored playlist is modified.
	StoredPlaylist
	// Playlist fires when the queue is modified.
	Playlist
	// Player fires when playback starts, stops or seeks.
	Player
	// Mixer fires when the volume changes.
	Mixer
	// Output fires when an audio output is enabled or disabled.
	Output
	// Options fires when a playback option (repeat, random, ...) changes.
	Options
	// Partition fires when a partition is added, removed or changed.
	Partition
	// Sticker fires when the sticker database is modified.
	Sticker
	// Subscription fires when a client subscribes or unsubscribes a channel.
	Subscription
	// Message fires when a message arrives on a subscribed channel.
	Message

	// Connect is synthetic: the connection has been established.
	Connect
	// Idle is synthetic: the client has gone idle, the wire is silent.
	Idle
	// Timeout is synthetic: a subscription's deadline elapsed.
	Timeout
)

const (
	// None is the empty event set.
	None Event = 0

	// Any is the union of all server subsystem bits, without the
	// synthetic ones.
	Any = Connect - 1
)

// eventNames lists the bits in order with their wire names.
var eventNames = []struct {
	bit  Event
	name string
}{
	{Database, "database"},
	{Update, "update"},
	{StoredPlaylist, "stored_playlist"},
	{Playlist, "playlist"},
	{Player, "player"},
	{Mixer, "mixer"},
	{Output, "output"},
	{Options, "options"},
	{Partition, "partition"},
	{Sticker, "sticker"},
	{Subscription, "subscription"},
	{Message, "message"},
	{Connect, "connect"},
	{Idle, "idle"},
	{Timeout, "timeout"},
}

// String renders the set bits as a |-separated list of subsystem names.
func (e Event) String() string {
	if e == None {
		return "none"
	}
	var names []string
	for _, en := range eventNames {
		if e&en.bit != 0 {
			names = append(names, en.name)
			e &^= en.bit
		}
	}
	if e != None {
		names = append(names, fmt.Sprintf("0x%x", uint(e)))
	}
	return strings.Join(names, "|")
}

// SubsystemEvent maps a subsystem name, as found on a changed: line of an
// idle reply, to its event bit. Unknown names map to None.
func SubsystemEvent(name string) Event {
	for _, en := range eventNames {
		if en.name == name {
			return en.bit
		}
	}
	return None
}
