package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/beingfastian/apd-listener-tool/internal/audio"
	"github.com/beingfastian/apd-listener-tool/internal/pipeline"
	"github.com/beingfastian/apd-listener-tool/internal/protocol"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

// fakeDecoder expands each compressed byte into ratio PCM bytes, mimicking a
// full-envelope re-decode. Errors are consumed one per call.
type fakeDecoder struct {
	ratio int
	errs  []error
	calls int
}

func (d *fakeDecoder) Decode(ctx context.Context, compressed []byte) ([]byte, error) {
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return make([]byte, len(compressed)*d.ratio), nil
}

type fakeTranscriber struct {
	texts []string
	calls int
	err   error
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	t.calls++
	if t.err != nil {
		return "", t.err
	}
	if t.calls <= len(t.texts) {
		return t.texts[t.calls-1], nil
	}
	return "", nil
}

type fakeFinalizer struct {
	transcript string
	source     string
	calls      int
	result     *pipeline.JobResult
	err        error
}

func (f *fakeFinalizer) ProcessTranscript(ctx context.Context, transcript, source string) (*pipeline.JobResult, error) {
	f.calls++
	f.transcript = transcript
	f.source = source
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &pipeline.JobResult{JobID: "job-live", Transcript: transcript}, nil
}

type eventRecorder struct {
	events []any
}

func (r *eventRecorder) emit(event any) {
	r.events = append(r.events, event)
}

func (r *eventRecorder) updates() []protocol.TranscriptionUpdate {
	var updates []protocol.TranscriptionUpdate
	for _, e := range r.events {
		if u, ok := e.(protocol.TranscriptionUpdate); ok {
			updates = append(updates, u)
		}
	}
	return updates
}

func (r *eventRecorder) errors() []protocol.ErrorEvent {
	var errs []protocol.ErrorEvent
	for _, e := range r.events {
		if ev, ok := e.(protocol.ErrorEvent); ok {
			errs = append(errs, ev)
		}
	}
	return errs
}

func testConfig() Config {
	return Config{
		MinCompressedBytes: 100,
		ForceDecodeTimeout: time.Hour, // readiness by size only unless a test overrides
		BufferDuration:     2 * time.Second,
		MinAudioDuration:   time.Second,
		Overlap:            200 * time.Millisecond,
		Strategy:           StrategySlidingWindow,
		Format:             testFormat,
	}
}

func newTestDriver(t *testing.T, config Config, decoder *fakeDecoder,
	transcriber *fakeTranscriber, finalizer *fakeFinalizer) (*Driver, *eventRecorder) {
	t.Helper()

	recorder := &eventRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	driver, err := NewDriver(config, decoder, transcriber, finalizer, nil, logger, recorder.emit)
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}
	return driver, recorder
}

func TestDriverEmitsIncrementalUpdates(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	transcriber := &fakeTranscriber{texts: []string{"open your book", "circle the atoms"}}
	driver, recorder := newTestDriver(t, testConfig(), decoder, transcriber, &fakeFinalizer{})

	// 8000 compressed bytes decode to 64000 PCM bytes: exactly 2s at 16kHz mono
	if err := driver.HandleAudio(context.Background(), make([]byte, 8000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	updates := recorder.updates()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update after first window, got %d", len(updates))
	}
	if updates[0].Text != "open your book" {
		t.Errorf("expected first fragment, got %q", updates[0].Text)
	}
	if updates[0].BufferedSeconds < 1.9 || updates[0].BufferedSeconds > 2.1 {
		t.Errorf("expected ~2s buffered, got %f", updates[0].BufferedSeconds)
	}

	// Second frame: full envelope re-decodes, only the fresh tail is buffered
	if err := driver.HandleAudio(context.Background(), make([]byte, 8000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	updates = recorder.updates()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[1].FullText != "open your book circle the atoms" {
		t.Errorf("expected joined transcript, got %q", updates[1].FullText)
	}
	if transcriber.calls != 2 {
		t.Errorf("expected 2 transcription calls, got %d", transcriber.calls)
	}
}

func TestDriverBelowThresholdDoesNotDecode(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	driver, recorder := newTestDriver(t, testConfig(), decoder, &fakeTranscriber{}, &fakeFinalizer{})

	if err := driver.HandleAudio(context.Background(), make([]byte, 50)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	if decoder.calls != 0 {
		t.Errorf("expected no decode below byte threshold, got %d calls", decoder.calls)
	}
	if len(recorder.events) != 0 {
		t.Errorf("expected no events, got %d", len(recorder.events))
	}
}

func TestDriverStopDrainsRemainingAudio(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	transcriber := &fakeTranscriber{texts: []string{"final words"}}
	driver, recorder := newTestDriver(t, testConfig(), decoder, transcriber, &fakeFinalizer{})

	// 6000 compressed bytes -> 48000 PCM bytes = 1.5s: viable but below the
	// 2s transcription trigger, so nothing is emitted yet
	if err := driver.HandleAudio(context.Background(), make([]byte, 6000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}
	if len(recorder.updates()) != 0 {
		t.Fatalf("expected no update before stop")
	}

	err := driver.HandleControl(context.Background(), &protocol.Control{Type: protocol.ControlTypeStop})
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	var stopped *protocol.Stopped
	for _, e := range recorder.events {
		if s, ok := e.(protocol.Stopped); ok {
			stopped = &s
		}
	}
	if stopped == nil {
		t.Fatal("expected stopped event")
	}
	if stopped.FullText != "final words" {
		t.Errorf("expected drained transcript, got %q", stopped.FullText)
	}
	if driver.State() != StateClosed {
		t.Errorf("expected closed state after stop, got %s", driver.State())
	}
}

func TestDriverSaveFinalizesThroughPipeline(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	transcriber := &fakeTranscriber{texts: []string{"open your book"}}
	finalizer := &fakeFinalizer{result: &pipeline.JobResult{
		JobID:      "job-123",
		Transcript: "open your book",
		Instructions: []pipeline.InstructionResult{
			{InstructionIndex: 0, Text: "Open your book", Steps: []pipeline.StepResult{
				{StepIndex: 0, Text: "Open your book", AudioURL: "https://cdn/x.mp3"},
			}},
		},
	}}
	driver, recorder := newTestDriver(t, testConfig(), decoder, transcriber, finalizer)

	if err := driver.HandleAudio(context.Background(), make([]byte, 6000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	err := driver.HandleControl(context.Background(), &protocol.Control{Type: protocol.ControlTypeSave})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if finalizer.calls != 1 {
		t.Fatalf("expected 1 finalizer call, got %d", finalizer.calls)
	}
	if finalizer.transcript != "open your book" {
		t.Errorf("expected drained transcript, got %q", finalizer.transcript)
	}
	if finalizer.source != "live" {
		t.Errorf("expected live source, got %q", finalizer.source)
	}

	var completed *protocol.Completed
	for _, e := range recorder.events {
		if c, ok := e.(protocol.Completed); ok {
			completed = &c
		}
	}
	if completed == nil {
		t.Fatal("expected completed event")
	}
	if completed.JobID != "job-123" {
		t.Errorf("expected job id in event, got %q", completed.JobID)
	}
	if len(completed.Instructions) != 1 || completed.Instructions[0].Steps[0].AudioURL != "https://cdn/x.mp3" {
		t.Errorf("expected instruction audio in event, got %+v", completed.Instructions)
	}
	if driver.State() != StateClosed {
		t.Errorf("expected closed state after save, got %s", driver.State())
	}
}

func TestDriverSaveWithoutAudioIsProtocolError(t *testing.T) {
	driver, recorder := newTestDriver(t, testConfig(), &fakeDecoder{ratio: 8},
		&fakeTranscriber{}, &fakeFinalizer{})

	err := driver.HandleControl(context.Background(), &protocol.Control{Type: protocol.ControlTypeSave})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}

	if len(recorder.errors()) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(recorder.errors()))
	}

	// The session survives an out-of-sequence save
	if driver.State() == StateClosed {
		t.Error("expected session to stay open after rejected save")
	}
	if err := driver.HandleAudio(context.Background(), make([]byte, 50)); err != nil {
		t.Errorf("expected audio accepted after rejected save, got %v", err)
	}
}

func TestDriverSaveFinalizationFailureClosesSession(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	transcriber := &fakeTranscriber{texts: []string{"some words"}}
	finalizer := &fakeFinalizer{err: errors.New("extraction backend down")}
	driver, recorder := newTestDriver(t, testConfig(), decoder, transcriber, finalizer)

	if err := driver.HandleAudio(context.Background(), make([]byte, 6000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	err := driver.HandleControl(context.Background(), &protocol.Control{Type: protocol.ControlTypeSave})
	if err == nil {
		t.Fatal("expected finalization error")
	}

	if len(recorder.errors()) == 0 {
		t.Error("expected error event on finalization failure")
	}
	if driver.State() != StateClosed {
		t.Errorf("expected closed state, got %s", driver.State())
	}
}

func TestDriverDiscard(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	finalizer := &fakeFinalizer{}
	driver, recorder := newTestDriver(t, testConfig(), decoder, &fakeTranscriber{}, finalizer)

	if err := driver.HandleAudio(context.Background(), make([]byte, 8000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	err := driver.HandleControl(context.Background(), &protocol.Control{Type: protocol.ControlTypeDiscard})
	if err != nil {
		t.Fatalf("discard failed: %v", err)
	}

	var discarded bool
	for _, e := range recorder.events {
		if _, ok := e.(protocol.Discarded); ok {
			discarded = true
		}
	}
	if !discarded {
		t.Error("expected discarded event")
	}
	if finalizer.calls != 0 {
		t.Error("discard must not persist anything")
	}

	if err := driver.HandleAudio(context.Background(), make([]byte, 100)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after discard, got %v", err)
	}
}

func TestDriverDecodeErrorDoesNotCloseSession(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8, errs: []error{errors.New("bad envelope"), nil}}
	transcriber := &fakeTranscriber{texts: []string{"recovered"}}
	driver, recorder := newTestDriver(t, testConfig(), decoder, transcriber, &fakeFinalizer{})

	// First frame: decode fails, session reports and continues
	if err := driver.HandleAudio(context.Background(), make([]byte, 4000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}
	if len(recorder.errors()) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(recorder.errors()))
	}
	if driver.State() == StateClosed {
		t.Fatal("session must survive a failed decode")
	}

	// Second frame: envelope retained from the failed pass, decode succeeds
	if err := driver.HandleAudio(context.Background(), make([]byte, 4000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}
	if len(recorder.updates()) != 1 {
		t.Fatalf("expected recovery update, got %d updates", len(recorder.updates()))
	}
	if recorder.updates()[0].Text != "recovered" {
		t.Errorf("unexpected transcript %q", recorder.updates()[0].Text)
	}
}

func TestDriverTranscriptionErrorKeepsBuffer(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	transcriber := &fakeTranscriber{err: errors.New("whisper timeout")}
	driver, recorder := newTestDriver(t, testConfig(), decoder, transcriber, &fakeFinalizer{})

	if err := driver.HandleAudio(context.Background(), make([]byte, 8000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	if len(recorder.updates()) != 0 {
		t.Error("expected no update on transcription failure")
	}
	if len(recorder.errors()) != 1 {
		t.Errorf("expected 1 error event, got %d", len(recorder.errors()))
	}
	if driver.State() == StateClosed {
		t.Error("session must survive a failed transcription")
	}
}

func TestGrowingBufferStrategyReplacesTranscript(t *testing.T) {
	config := testConfig()
	config.Strategy = StrategyGrowingBuffer

	decoder := &fakeDecoder{ratio: 8}
	transcriber := &fakeTranscriber{texts: []string{"open your", "open your book now"}}
	driver, recorder := newTestDriver(t, config, decoder, transcriber, &fakeFinalizer{})

	if err := driver.HandleAudio(context.Background(), make([]byte, 8000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}
	if err := driver.HandleAudio(context.Background(), make([]byte, 8000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	updates := recorder.updates()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}

	// Each pass re-transcribes the whole buffer; full_text is replaced, not joined
	if updates[1].FullText != "open your book now" {
		t.Errorf("expected replaced transcript, got %q", updates[1].FullText)
	}
	if driver.FullTranscript() != "open your book now" {
		t.Errorf("expected latest full transcript, got %q", driver.FullTranscript())
	}
}

func TestForceDecodeTimeoutTriggersSmallBuffer(t *testing.T) {
	config := testConfig()
	config.MinCompressedBytes = 1 << 30 // unreachable by size
	config.ForceDecodeTimeout = time.Nanosecond

	decoder := &fakeDecoder{ratio: 8}
	driver, _ := newTestDriver(t, config, decoder, &fakeTranscriber{}, &fakeFinalizer{})

	if err := driver.HandleAudio(context.Background(), make([]byte, 10)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := driver.HandleAudio(context.Background(), make([]byte, 10)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}

	if decoder.calls == 0 {
		t.Error("expected elapsed time to force a decode despite small buffer")
	}
}

func TestDriverConfigControl(t *testing.T) {
	driver, recorder := newTestDriver(t, testConfig(), &fakeDecoder{ratio: 8},
		&fakeTranscriber{}, &fakeFinalizer{})

	err := driver.HandleControl(context.Background(),
		&protocol.Control{Type: protocol.ControlTypeConfig, SampleRate: 16000})
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}

	if len(recorder.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(recorder.events))
	}
	ack, ok := recorder.events[0].(protocol.ConfigAck)
	if !ok {
		t.Fatalf("expected config ack, got %T", recorder.events[0])
	}
	if ack.SessionID != driver.ID() {
		t.Errorf("expected session id %q, got %q", driver.ID(), ack.SessionID)
	}

	// A mismatched sample rate is rejected
	err = driver.HandleControl(context.Background(),
		&protocol.Control{Type: protocol.ControlTypeConfig, SampleRate: 44100})
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol for unsupported sample rate, got %v", err)
	}
}

func TestTwoSessionsAreIsolated(t *testing.T) {
	decoderA := &fakeDecoder{ratio: 8}
	decoderB := &fakeDecoder{ratio: 8}
	transcriberA := &fakeTranscriber{texts: []string{"session a text"}}
	transcriberB := &fakeTranscriber{texts: []string{"session b text"}}

	driverA, recorderA := newTestDriver(t, testConfig(), decoderA, transcriberA, &fakeFinalizer{})
	driverB, recorderB := newTestDriver(t, testConfig(), decoderB, transcriberB, &fakeFinalizer{})

	// Interleave frames between the two sessions
	for i := 0; i < 2; i++ {
		if err := driverA.HandleAudio(context.Background(), make([]byte, 4000)); err != nil {
			t.Fatalf("session A HandleAudio failed: %v", err)
		}
		if err := driverB.HandleAudio(context.Background(), make([]byte, 4000)); err != nil {
			t.Fatalf("session B HandleAudio failed: %v", err)
		}
	}

	if got := recorderA.updates()[0].Text; got != "session a text" {
		t.Errorf("session A got %q", got)
	}
	if got := recorderB.updates()[0].Text; got != "session b text" {
		t.Errorf("session B got %q", got)
	}
	if driverA.ID() == driverB.ID() {
		t.Error("sessions must have distinct ids")
	}
}

func TestCloseReleasesWithoutEvents(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	finalizer := &fakeFinalizer{}
	driver, recorder := newTestDriver(t, testConfig(), decoder, &fakeTranscriber{texts: []string{"x"}}, finalizer)

	if err := driver.HandleAudio(context.Background(), make([]byte, 8000)); err != nil {
		t.Fatalf("HandleAudio failed: %v", err)
	}
	eventsBefore := len(recorder.events)

	driver.Close()

	if len(recorder.events) != eventsBefore {
		t.Error("disconnect must not emit events")
	}
	if finalizer.calls != 0 {
		t.Error("disconnect must not persist anything")
	}
	if driver.State() != StateClosed {
		t.Errorf("expected closed state, got %s", driver.State())
	}

	// Idempotent
	driver.Close()
}

func TestOnCloseHookRunsOnceOnAnyClosePath(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	driver, _ := newTestDriver(t, testConfig(), decoder, &fakeTranscriber{texts: []string{"x"}}, &fakeFinalizer{})

	closed := 0
	driver.SetOnClose(func() { closed++ })

	driver.Close()
	driver.Close()

	if closed != 1 {
		t.Errorf("expected close hook to run once, ran %d times", closed)
	}
}

func TestOnCloseHookRunsOnDiscard(t *testing.T) {
	decoder := &fakeDecoder{ratio: 8}
	driver, _ := newTestDriver(t, testConfig(), decoder, &fakeTranscriber{texts: []string{"x"}}, &fakeFinalizer{})

	closed := 0
	driver.SetOnClose(func() { closed++ })

	if err := driver.HandleControl(context.Background(), &protocol.Control{Type: protocol.ControlTypeDiscard}); err != nil {
		t.Fatalf("discard failed: %v", err)
	}

	if closed != 1 {
		t.Errorf("expected close hook after discard, ran %d times", closed)
	}
}
