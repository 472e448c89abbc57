// Package worker provides a NATS worker that reads pages aloud on request and
// forwards player control commands.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/dom"
	"github.com/book-expert/readaloud/internal/lifecycle"
	"github.com/book-expert/readaloud/internal/ui"
)

const handleControlTimeout = 30 * time.Second

// Control actions.
const (
	ActionClick = "click"
	ActionKey   = "key"
	ActionRuler = "ruler"

	RulerOn  = "on"
	RulerOff = "off"
)

var (
	// ErrSubjectEmpty indicates a missing read or control subject.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrPageKeyEmpty indicates a read request without a page key.
	ErrPageKeyEmpty = errors.New("page key cannot be empty")
	// ErrUnknownAction indicates a control command with an unsupported action.
	ErrUnknownAction = errors.New("unknown control action")
	// ErrReadTimeout indicates a page read that did not finish in time.
	ErrReadTimeout = errors.New("page read timed out")
)

// ReadPageRequest asks the worker to read the page stored under PageKey.
type ReadPageRequest struct {
	Header  events.EventHeader `json:"header"`
	PageKey string             `json:"page_key"`
}

// ReadPageResult is the reply to a ReadPageRequest, sent once the session
// ends.
type ReadPageResult struct {
	Header    events.EventHeader `json:"header"`
	PageKey   string             `json:"page_key"`
	Chunks    int                `json:"chunks"`
	AudioKeys []string           `json:"audio_keys"`
	Error     string             `json:"error,omitempty"`
}

// ControlCommand is a user interaction with the page: a click on Target, a
// key press on Target, or the reading ruler preference.
type ControlCommand struct {
	Header events.EventHeader `json:"header"`
	Action string             `json:"action"`
	Target string             `json:"target,omitempty"`
	Key    string             `json:"key,omitempty"`
}

// ControlResult reports the state after a ControlCommand.
type ControlResult struct {
	Header events.EventHeader `json:"header"`
	State  core.PlaybackState `json:"state"`
	Module core.ModuleState   `json:"module"`
	Error  string             `json:"error,omitempty"`
}

// Subjects names the subjects the worker listens on.
type Subjects struct {
	Read    string
	Control string
}

// NatsWorker serves read requests and control commands for one document.
// Reads are handled one at a time; control commands are handled while a read
// is in progress.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	pages          core.ObjectStore
	manager        *lifecycle.Manager
	binder         *ui.Binder
	ruler          *ui.Ruler
	recorder       *Recorder
	readTimeout    time.Duration
	log            *logger.Logger

	baseCtx context.Context
}

// NewNatsWorker creates a worker. ruler may be nil.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	pages core.ObjectStore,
	manager *lifecycle.Manager,
	binder *ui.Binder,
	ruler *ui.Ruler,
	recorder *Recorder,
	readTimeout time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subjects.Read == "" || subjects.Control == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		pages:          pages,
		manager:        manager,
		binder:         binder,
		ruler:          ruler,
		recorder:       recorder,
		readTimeout:    readTimeout,
		log:            log,
		baseCtx:        context.Background(),
	}, nil
}

// Run subscribes to both subjects and serves them until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	w.baseCtx = ctx

	readSub, err := w.natsConnection.Subscribe(w.subjects.Read, w.handleRead)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Read, err)
	}

	controlSub, err := w.natsConnection.Subscribe(w.subjects.Control, w.handleControl)
	if err != nil {
		_ = readSub.Unsubscribe()

		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Control, err)
	}

	w.log.System("Listening for read requests on %s and controls on %s", w.subjects.Read, w.subjects.Control)

	<-ctx.Done()

	drainErr := errors.Join(controlSub.Drain(), readSub.Drain())
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleRead(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(w.baseCtx, w.readTimeout)
	defer cancel()

	var request ReadPageRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.log.Error("Failed to parse read request: %v", err)
		w.respond(msg, ReadPageResult{Error: fmt.Sprintf("failed to unmarshal request: %v", err)})

		return
	}

	result, err := w.readPage(ctx, request)
	if err != nil {
		w.log.Error("Failed to read page %s for workflow %s: %v", request.PageKey, request.Header.WorkflowID, err)
		result.Error = err.Error()
	}

	w.respond(msg, result)
}

// readPage loads the page into the document, plays it to the end and collects
// the audio keys of every chunk.
func (w *NatsWorker) readPage(ctx context.Context, request ReadPageRequest) (ReadPageResult, error) {
	result := ReadPageResult{Header: request.Header, PageKey: request.PageKey, AudioKeys: []string{}}

	if request.PageKey == "" {
		return result, ErrPageKeyEmpty
	}

	page, err := w.pages.Download(ctx, request.PageKey)
	if err != nil {
		return result, fmt.Errorf("failed to download page '%s': %w", request.PageKey, err)
	}

	root, err := dom.ParseTree(bytes.NewReader(page))
	if err != nil {
		return result, fmt.Errorf("failed to parse page '%s': %w", request.PageKey, err)
	}

	w.manager.Navigate(root)
	w.manager.PanelOpened(w.baseCtx)

	err = w.manager.Preload(ctx)
	if err != nil {
		return result, err
	}

	controller := w.manager.Controller()

	w.recorder.begin(request.Header)

	err = controller.Start(ctx)
	if err != nil {
		w.recorder.end()

		return result, fmt.Errorf("failed to start playback: %w", err)
	}

	err = controller.Wait(ctx)
	if err != nil {
		controller.Stop()
		err = fmt.Errorf("%w: %w", ErrReadTimeout, err)
	}

	state := w.recorder.end()
	result.Chunks = state.chunks
	result.AudioKeys = append(result.AudioKeys, state.audioKeys...)

	if err == nil && state.failure != "" {
		err = fmt.Errorf("speech engine error: %s", state.failure)
	}

	return result, err
}

func (w *NatsWorker) handleControl(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(w.baseCtx, handleControlTimeout)
	defer cancel()

	var command ControlCommand

	err := json.Unmarshal(msg.Data, &command)
	if err == nil {
		err = w.control(ctx, command)
	} else {
		err = fmt.Errorf("failed to unmarshal command: %w", err)
	}

	result := ControlResult{Header: command.Header, State: core.StateIdle, Module: w.manager.State()}
	if controller := w.manager.Controller(); controller != nil {
		result.State = controller.State()
	}

	if err != nil {
		w.log.Warn("Control command %q on %q failed: %v", command.Action, command.Target, err)
		result.Error = err.Error()
	}

	w.respond(msg, result)
}

func (w *NatsWorker) control(ctx context.Context, command ControlCommand) error {
	switch command.Action {
	case ActionClick:
		return w.binder.Dispatch(ctx, command.Target)
	case ActionKey:
		if command.Target == ui.SelRulerHandle && w.ruler != nil {
			w.ruler.HandleKey(command.Key)

			return nil
		}

		w.binder.HandleKey(command.Key)

		return nil
	case ActionRuler:
		if w.ruler != nil {
			w.ruler.Apply(command.Key == RulerOn)
		}

		return nil
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownAction, command.Action)
	}
}

// respond replies to msg when the sender asked for a reply.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error("Failed to publish reply: %v", err)
	}
}
