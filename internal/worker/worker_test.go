package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/dom"
	"github.com/book-expert/readaloud/internal/engine"
	"github.com/book-expert/readaloud/internal/extract"
	"github.com/book-expert/readaloud/internal/lifecycle"
	"github.com/book-expert/readaloud/internal/objectstore"
	"github.com/book-expert/readaloud/internal/player"
	"github.com/book-expert/readaloud/internal/ui"
	"github.com/book-expert/readaloud/internal/worker"
)

const (
	readSubject    = "test.read"
	controlSubject = "test.control"
	audioSubject   = "test.audio"
	requestTimeout = 5 * time.Second
)

const articlePage = `<html><body>
<button data-tts-toggle><span class="tts-btn-icon">icon</span></button>
<main><h1>Getting started</h1><p>Install the tool first. Then run it.</p></main>
<div id="tts-player" aria-hidden="true" data-collapsed="false">
  <p id="tts-status">Listening to Page</p>
  <div role="status"></div>
  <div class="tts-controls">
    <button class="tts-play-pause"><span class="sr-only">Play</span></button>
    <button class="tts-stop">Stop</button>
  </div>
</div>
</body></html>`

const emptyPage = `<html><body><main><script>var x = 1;</script></main></body></html>`

// fakeSynth returns the text as audio. With a gate it blocks until the gate
// closes or the utterance is cancelled.
type fakeSynth struct {
	gate chan struct{}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return []byte("RIFF" + text), nil
}

func (f *fakeSynth) Voices(context.Context) ([]core.Voice, error) {
	return []core.Voice{{Name: "Samantha", Lang: "en-US"}}, nil
}

type harness struct {
	conn    *nats.Conn
	pages   *objectstore.NatsObjectStore
	audio   *objectstore.NatsObjectStore
	manager *lifecycle.Manager
	ruler   *ui.Ruler
}

func newHarness(t *testing.T, synth core.Synthesizer) *harness {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	pages, err := objectstore.New(jetstreamContext, "PAGES")
	require.NoError(t, err)

	audio, err := objectstore.New(jetstreamContext, "AUDIO")
	require.NoError(t, err)

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	recorder := worker.NewRecorder(natsConnection, audioSubject, log)

	eng, err := engine.New(synth, audio, log, engine.WithAudioHandler(recorder.AudioRendered))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	blank, err := dom.ParseString("<html><body></body></html>")
	require.NoError(t, err)

	doc := dom.New(blank)
	binder := ui.NewBinder(doc, log)
	ruler := ui.NewRuler(doc, ui.Preferences{}, 800, 16)
	loader := lifecycle.EngineLoader(eng, extract.FromDocument(doc), binder, log, player.WithObserver(recorder))
	manager := lifecycle.NewManager(doc, binder, ruler, loader, log, time.Millisecond)

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{Read: readSubject, Control: controlSubject},
		pages, manager, binder, ruler, recorder, requestTimeout, log,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() { errChan <- natsWorker.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	return &harness{conn: natsConnection, pages: pages, audio: audio, manager: manager, ruler: ruler}
}

// request retries until the worker has subscribed.
func request[T any](t *testing.T, conn *nats.Conn, subject string, payload any) T {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var reply *nats.Msg

	require.Eventually(t, func() bool {
		reply, err = conn.Request(subject, data, requestTimeout)

		return !errors.Is(err, nats.ErrNoResponders)
	}, requestTimeout, 10*time.Millisecond)
	require.NoError(t, err)

	var result T
	require.NoError(t, json.Unmarshal(reply.Data, &result))

	return result
}

func newHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}

func TestNewNatsWorker_RequiresSubjects(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, worker.Subjects{Read: "read"}, nil, nil, nil, nil, nil, time.Second, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}

func TestReadPage_Success(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSynth{})
	ctx := context.Background()

	audioEvents := make(chan *nats.Msg, 16)
	sub, err := h.conn.ChanSubscribe(audioSubject, audioEvents)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	require.NoError(t, h.pages.Upload(ctx, "guide/start.html", []byte(articlePage)))

	header := newHeader()
	result := request[worker.ReadPageResult](t, h.conn, readSubject, worker.ReadPageRequest{
		Header:  header,
		PageKey: "guide/start.html",
	})

	require.Empty(t, result.Error)
	assert.Equal(t, header.WorkflowID, result.Header.WorkflowID)
	assert.Equal(t, "guide/start.html", result.PageKey)
	assert.Equal(t, 1, result.Chunks)
	require.Len(t, result.AudioKeys, 1)

	audio, err := h.audio.Download(ctx, result.AudioKeys[0])
	require.NoError(t, err)
	assert.Equal(t, "RIFFGetting started. Install the tool first. Then run it.", string(audio))

	select {
	case msg := <-audioEvents:
		var event events.AudioChunkCreatedEvent
		require.NoError(t, json.Unmarshal(msg.Data, &event))

		assert.Equal(t, header.WorkflowID, event.Header.WorkflowID)
		assert.NotEqual(t, header.EventID, event.Header.EventID)
		assert.Equal(t, result.AudioKeys[0], event.AudioKey)
		assert.Equal(t, 1, event.PageNumber)
		assert.Equal(t, 1, event.TotalPages)
	case <-time.After(requestTimeout):
		t.Fatal("no audio chunk event published")
	}

	assert.Equal(t, core.ModuleReady, h.manager.State())
}

func TestReadPage_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pageKey string
		page    string
		wantErr string
	}{
		{name: "empty key", wantErr: worker.ErrPageKeyEmpty.Error()},
		{name: "missing page", pageKey: "missing.html", wantErr: "object not found"},
		{name: "no readable content", pageKey: "empty.html", page: emptyPage, wantErr: player.ErrNoContent.Error()},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, &fakeSynth{})

			if testCase.page != "" {
				require.NoError(t, h.pages.Upload(context.Background(), testCase.pageKey, []byte(testCase.page)))
			}

			result := request[worker.ReadPageResult](t, h.conn, readSubject, worker.ReadPageRequest{
				Header:  newHeader(),
				PageKey: testCase.pageKey,
			})

			assert.Contains(t, result.Error, testCase.wantErr)
			assert.Empty(t, result.AudioKeys)
		})
	}
}

func TestReadPage_MalformedRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSynth{})

	var reply *nats.Msg

	require.Eventually(t, func() bool {
		var err error

		reply, err = h.conn.Request(readSubject, []byte("{not json"), requestTimeout)

		return err == nil
	}, requestTimeout, 10*time.Millisecond)

	var result worker.ReadPageResult
	require.NoError(t, json.Unmarshal(reply.Data, &result))
	assert.Contains(t, result.Error, "failed to unmarshal request")
}

func TestControl_PauseAndStopDuringRead(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{gate: make(chan struct{})}
	h := newHarness(t, synth)
	require.NoError(t, h.pages.Upload(context.Background(), "page.html", []byte(articlePage)))

	done := make(chan worker.ReadPageResult, 1)

	go func() {
		done <- request[worker.ReadPageResult](t, h.conn, readSubject, worker.ReadPageRequest{
			Header:  newHeader(),
			PageKey: "page.html",
		})
	}()

	require.Eventually(t, func() bool {
		controller := h.manager.Controller()

		return controller != nil && controller.IsPlaying()
	}, requestTimeout, time.Millisecond)

	paused := request[worker.ControlResult](t, h.conn, controlSubject, worker.ControlCommand{
		Header: newHeader(),
		Action: worker.ActionClick,
		Target: ".tts-play-pause .sr-only",
	})
	assert.Empty(t, paused.Error)
	assert.Equal(t, core.StatePaused, paused.State)
	assert.Equal(t, core.ModuleReady, paused.Module)

	stopped := request[worker.ControlResult](t, h.conn, controlSubject, worker.ControlCommand{
		Header: newHeader(),
		Action: worker.ActionClick,
		Target: ".tts-stop",
	})
	assert.Equal(t, core.StateIdle, stopped.State)

	select {
	case result := <-done:
		assert.Empty(t, result.Error)
		assert.Equal(t, 1, result.Chunks)
		assert.Empty(t, result.AudioKeys, "a stopped read produces no audio")
	case <-time.After(requestTimeout):
		t.Fatal("read did not finish after stop")
	}
}

func TestControl_RulerAndUnknownAction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSynth{})

	on := request[worker.ControlResult](t, h.conn, controlSubject, worker.ControlCommand{
		Header: newHeader(),
		Action: worker.ActionRuler,
		Key:    worker.RulerOn,
	})
	assert.Empty(t, on.Error)
	assert.True(t, h.ruler.Enabled())
	assert.Equal(t, core.ModuleIdle, on.Module)

	top := h.ruler.Top()
	request[worker.ControlResult](t, h.conn, controlSubject, worker.ControlCommand{
		Header: newHeader(),
		Action: worker.ActionKey,
		Target: ui.SelRulerHandle,
		Key:    "ArrowDown",
	})
	assert.InDelta(t, top+10, h.ruler.Top(), 1e-9)

	request[worker.ControlResult](t, h.conn, controlSubject, worker.ControlCommand{
		Header: newHeader(),
		Action: worker.ActionRuler,
		Key:    worker.RulerOff,
	})
	assert.False(t, h.ruler.Enabled())

	unknown := request[worker.ControlResult](t, h.conn, controlSubject, worker.ControlCommand{
		Header: newHeader(),
		Action: "scroll",
	})
	assert.Contains(t, unknown.Error, worker.ErrUnknownAction.Error())
}
