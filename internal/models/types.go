package models

import (
	"github.com/google/uuid"

	"github.com/nxpad/go-procon-server/internal/input"
)

// EventType represents different types of events that can be emitted
type EventType string

const (
	EventTypePhaseChanged    EventType = "phase_changed"
	EventTypeRecordingState  EventType = "recording_state"
	EventTypePlaybackState   EventType = "playback_state"
	EventTypeSequenceCleared EventType = "sequence_cleared"
	EventTypeServerShutdown  EventType = "server_shutdown"
)

// StatusMessage is the session snapshot returned by the status endpoint and
// pushed to WebSocket clients on connect.
type StatusMessage struct {
	Phase          string `json:"phase"`
	Recording      bool   `json:"recording"`
	Playing        bool   `json:"playing"`
	SequenceLength int    `json:"sequence_length"`
	AdapterAddress string `json:"adapter_address,omitempty"`
	PeerAddress    string `json:"peer_address,omitempty"`
}

// EventMessage is sent to WebSocket clients for state transitions
type EventMessage struct {
	Event EventType   `json:"event"`
	Data  interface{} `json:"data"`
}

// PhaseChangedData carries the payload of a phase_changed event
type PhaseChangedData struct {
	Phase string `json:"phase"`
	Peer  string `json:"peer,omitempty"`
}

// Macro is a named, persisted recording
type Macro struct {
	Name    string         `json:"name"`
	Packets []input.Packet `json:"packets"`
}

// EventCallback is a function type for event callbacks
type EventCallback func(eventType EventType, data interface{})

// GenerateMessageID generates a new message ID
func GenerateMessageID() string {
	return uuid.New().String()
}
