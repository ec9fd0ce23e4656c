package mpdmux

import (
	"testing"
)

func TestEventAnyExcludesSynthetics(t *testing.T) {
	if Any&Connect != 0 || Any&Idle != 0 || Any&Timeout != 0 {
		t.Error("Any must not include synthetic bits")
	}
	subsystems := []Event{
		Database, Update, StoredPlaylist, Playlist, Player, Mixer,
		Output, Options, Partition, Sticker, Subscription, Message,
	}
	union := None
	for _, e := range subsystems {
		union |= e
	}
	if union != Any {
		t.Errorf("subsystem union 0x%x != Any 0x%x", uint(union), uint(Any))
	}
}

func TestEventString(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		expected string
	}{
		{"none", None, "none"},
		{"single", Player, "player"},
		{"combined", Player | Mixer, "player|mixer"},
		{"wire name", StoredPlaylist, "stored_playlist"},
		{"synthetic", Timeout, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.String(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSubsystemEvent(t *testing.T) {
	tests := []struct {
		name     string
		expected Event
	}{
		{"player", Player},
		{"stored_playlist", StoredPlaylist},
		{"mixer", Mixer},
		{"nonsense", None},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubsystemEvent(tt.name); got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}
