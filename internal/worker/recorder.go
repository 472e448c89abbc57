package worker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/readaloud/internal/engine"
	"github.com/book-expert/readaloud/internal/player"
)

// Recorder publishes an AudioChunkCreatedEvent for every rendered chunk and
// collects the outcome of the page read in progress. It is both the engine's
// audio handler and a playback observer.
type Recorder struct {
	natsConnection *nats.Conn
	subject        string
	log            *logger.Logger

	mu     sync.Mutex
	active *readState
}

type readState struct {
	header    events.EventHeader
	chunks    int
	audioKeys []string
	failure   string
}

var _ player.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder publishing on subject.
func NewRecorder(natsConnection *nats.Conn, subject string, log *logger.Logger) *Recorder {
	return &Recorder{natsConnection: natsConnection, subject: subject, log: log}
}

// begin starts collecting for the read identified by header.
func (r *Recorder) begin(header events.EventHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = &readState{header: header}
}

// end stops collecting and returns what the read produced.
func (r *Recorder) end() readState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return readState{}
	}

	state := *r.active
	r.active = nil

	return state
}

// AudioRendered records the chunk's key and publishes it. Chunks rendered
// outside a page read get a fresh workflow id.
func (r *Recorder) AudioRendered(audio engine.Audio) {
	r.mu.Lock()

	header := newHeader(events.EventHeader{WorkflowID: uuid.NewString()})
	if r.active != nil {
		r.active.audioKeys = append(r.active.audioKeys, audio.Key)
		header = newHeader(r.active.header)
	}
	r.mu.Unlock()

	event := &events.AudioChunkCreatedEvent{
		Header:     header,
		AudioKey:   audio.Key,
		PageNumber: audio.Index + 1,
		TotalPages: audio.Total,
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.log.Error("Failed to marshal audio chunk event: %v", err)

		return
	}

	err = r.natsConnection.Publish(r.subject, data)
	if err != nil {
		r.log.Error("Failed to publish audio chunk %s for workflow %s: %v", audio.Key, header.WorkflowID, err)
	}
}

// PlaybackStarted records the chunk count of the read.
func (r *Recorder) PlaybackStarted(chunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		r.active.chunks = chunks
	}
}

// ChunkSpoken is a no-op; rendered chunks are tracked through AudioRendered.
func (r *Recorder) ChunkSpoken() {}

// PlaybackFinished is a no-op.
func (r *Recorder) PlaybackFinished() {}

// PlaybackFailed records the engine error reason of the read.
func (r *Recorder) PlaybackFailed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		r.active.failure = reason
	}
}

// newHeader derives the header of an event emitted within the workflow of
// parent.
func newHeader(parent events.EventHeader) events.EventHeader {
	header := parent
	header.Timestamp = time.Now()
	header.EventID = uuid.NewString()

	return header
}
