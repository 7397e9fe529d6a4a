// Package session holds the shared controller session state and the
// connection orchestrator that drives the adapter through pairing and
// high-frequency input transmission.
package session

import (
	"sync"

	"github.com/nxpad/go-procon-server/internal/input"
)

// Phase is the externally observable connection state of the session.
type Phase string

const (
	PhaseInitializing       Phase = "initializing"
	PhaseAdvertising        Phase = "advertising"
	PhaseAwaitingConnection Phase = "awaiting_connection"
	PhaseConnected          Phase = "connected"
	PhaseDisconnected       Phase = "disconnected"
	PhaseTerminated         Phase = "terminated"
)

// State is the shared contract between the transmission loop and external
// callers. One mutex guards all fields; every accessor hands out or takes in
// copies, never references. The loop is the sole writer of the phase and the
// recorded sequence; external callers are the sole writers of the desired
// packet and the mode flags.
type State struct {
	mu          sync.Mutex
	phase       Phase
	peerAddress string

	desired   input.Packet
	recording bool
	playing   bool

	sequence []input.Packet
	cursor   int
}

// NewState returns a fresh session state with an idle desired packet.
func NewState() *State {
	return &State{
		phase:   PhaseInitializing,
		desired: input.Idle(),
	}
}

// Phase returns the current connection phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// PeerAddress returns the connected console address, if any.
func (s *State) PeerAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerAddress
}

func (s *State) setPhase(phase Phase, peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.peerAddress = peer
}

// DesiredPacket returns a copy of the live desired input.
func (s *State) DesiredPacket() input.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desired
}

// SetDesiredPacket replaces the live desired input.
func (s *State) SetDesiredPacket(p input.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desired = p
}

// Recording reports whether live input is being captured.
func (s *State) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// SetRecording toggles capture of transmitted packets. Starting a recording
// while playback is active is a no-op: playback wins, and the request is
// dropped rather than queued.
func (s *State) SetRecording(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && s.playing {
		return
	}
	s.recording = on
}

// Playing reports whether the recorded sequence is being replayed.
func (s *State) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SetPlaying toggles playback. Starting playback rewinds the cursor to the
// beginning of the recorded sequence.
func (s *State) SetPlaying(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = on
	if on {
		s.cursor = 0
	}
}

// Sequence returns a copy of the recorded sequence.
func (s *State) Sequence() []input.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]input.Packet, len(s.sequence))
	copy(out, s.sequence)
	return out
}

// SetSequence replaces the recorded sequence and rewinds the cursor.
func (s *State) SetSequence(packets []input.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence = make([]input.Packet, len(packets))
	copy(s.sequence, packets)
	s.cursor = 0
}

// ClearSequence empties the recorded sequence. Playback is forced off so the
// cursor can never index past the end of a cleared sequence.
func (s *State) ClearSequence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence = nil
	s.cursor = 0
	s.playing = false
}

// SequenceLength returns the number of recorded packets.
func (s *State) SequenceLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sequence)
}

// tickSnapshot is what one loop iteration acts on. Taking playing, recording
// and the desired packet under a single lock decides playback-wins
// atomically for the tick.
type tickSnapshot struct {
	playing   bool
	recording bool
	desired   input.Packet
}

func (s *State) tickSnapshot() tickSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tickSnapshot{
		playing:   s.playing,
		recording: s.recording,
		desired:   s.desired,
	}
}

// nextPlayback returns the packet at the playback cursor and advances it.
// ok is false when there is nothing to play. wrapped is true when the cursor
// just moved past the final packet; the loop pauses before repeating.
func (s *State) nextPlayback() (p input.Packet, ok bool, wrapped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || len(s.sequence) == 0 {
		return input.Packet{}, false, false
	}
	if s.cursor >= len(s.sequence) {
		s.cursor = 0
	}
	p = s.sequence[s.cursor]
	s.cursor++
	if s.cursor >= len(s.sequence) {
		s.cursor = 0
		wrapped = true
	}
	return p, true, wrapped
}

// appendRecorded captures a just-transmitted packet.
func (s *State) appendRecorded(p input.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence = append(s.sequence, p)
}
