package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beingfastian/apd-listener-tool/internal/audio"
	"github.com/beingfastian/apd-listener-tool/internal/metrics"
	"github.com/beingfastian/apd-listener-tool/internal/pipeline"
	"github.com/beingfastian/apd-listener-tool/internal/protocol"
)

// ErrProtocol indicates a control message arrived out of sequence
var ErrProtocol = errors.New("session protocol error")

// ErrClosed indicates an operation on a session that already finished
var ErrClosed = errors.New("session closed")

// Transcript strategies for repeated re-transcription of live audio
const (
	StrategySlidingWindow = "sliding_window"
	StrategyGrowingBuffer = "growing_buffer"
)

// State identifies where a live session is in its lifecycle
type State int

const (
	StateAwaitingAudio State = iota
	StateAccumulating
	StateDecoding
	StateTranscribing
	StateFinalizing
	StateClosed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateAwaitingAudio:
		return "awaiting_audio"
	case StateAccumulating:
		return "accumulating"
	case StateDecoding:
		return "decoding"
	case StateTranscribing:
		return "transcribing"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Transcriber converts WAV audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (string, error)
}

// Finalizer persists a finished live transcript as a job
type Finalizer interface {
	ProcessTranscript(ctx context.Context, transcript, source string) (*pipeline.JobResult, error)
}

// EmitFunc delivers an event to the connected client
type EmitFunc func(event any)

// Config contains live session tuning parameters
type Config struct {
	MinCompressedBytes int
	ForceDecodeTimeout time.Duration
	BufferDuration     time.Duration // transcription trigger
	MinAudioDuration   time.Duration // below this, speech backends are unreliable
	Overlap            time.Duration // PCM retained across transcriptions
	Strategy           string
	Format             audio.Format
}

// Driver owns one live session: the compressed envelope buffer, the decoded
// PCM buffer, the running transcript, and the lifecycle state machine.
// All entry points are serialized by the session mutex, so a session never
// has two decode or transcribe operations in flight.
type Driver struct {
	id          string
	config      Config
	decoder     audio.Decoder
	transcriber Transcriber
	finalizer   Finalizer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	emit        EmitFunc

	mu             sync.Mutex
	state          State
	onClose        func()
	envelope       *audio.EnvelopeBuffer
	pcm            *audio.PCMBuffer
	fragments      []string // sliding-window transcript pieces in emission order
	fullTranscript string   // growing-buffer latest full transcript
	lastDecodedLen int      // decoded bytes already consumed from the envelope
	chunksReceived uint64
	startTime      time.Time
	lastActivity   time.Time
}

// NewDriver creates a live session driver. The emit function is called with
// every outbound event and must be safe to call from the session goroutine.
func NewDriver(config Config, decoder audio.Decoder, transcriber Transcriber,
	finalizer Finalizer, m *metrics.Metrics, logger *slog.Logger, emit EmitFunc) (*Driver, error) {

	if decoder == nil || transcriber == nil || finalizer == nil || emit == nil {
		return nil, fmt.Errorf("decoder, transcriber, finalizer and emit must be set")
	}

	if config.MinCompressedBytes <= 0 {
		config.MinCompressedBytes = 20000
	}
	if config.ForceDecodeTimeout <= 0 {
		config.ForceDecodeTimeout = 2500 * time.Millisecond
	}
	if config.BufferDuration <= 0 {
		config.BufferDuration = 2 * time.Second
	}
	if config.MinAudioDuration <= 0 {
		config.MinAudioDuration = time.Second
	}
	if config.Overlap < 0 {
		config.Overlap = 0
	}
	if config.Strategy == "" {
		config.Strategy = StrategySlidingWindow
	}
	if config.Strategy != StrategySlidingWindow && config.Strategy != StrategyGrowingBuffer {
		return nil, fmt.Errorf("unknown strategy: %q", config.Strategy)
	}

	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now()
	return &Driver{
		id:           uuid.NewString(),
		config:       config,
		decoder:      decoder,
		transcriber:  transcriber,
		finalizer:    finalizer,
		metrics:      m,
		logger:       logger,
		emit:         emit,
		state:        StateAwaitingAudio,
		envelope:     audio.NewEnvelopeBuffer(),
		pcm:          audio.NewPCMBuffer(config.Format),
		startTime:    now,
		lastActivity: now,
	}, nil
}

// ID returns the session identifier
func (d *Driver) ID() string {
	return d.id
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetOnClose registers a callback invoked once when the session closes,
// whatever caused the close. The connection layer uses it to drop the
// transport when the session is reaped for inactivity.
func (d *Driver) SetOnClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = fn
}

// LastActivity returns when the session last received a message
func (d *Driver) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

// FullTranscript returns the transcript accumulated so far
func (d *Driver) FullTranscript() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transcript()
}

// transcript joins the accumulated text under the active strategy.
// Callers must hold the mutex.
func (d *Driver) transcript() string {
	if d.config.Strategy == StrategyGrowingBuffer {
		return d.fullTranscript
	}
	return strings.Join(d.fragments, " ")
}

// HandleAudio ingests one binary audio frame. It appends to the compressed
// envelope, decodes when the readiness rule fires, and runs a transcription
// pass when enough decoded audio has accumulated. Decode and transcription
// failures are reported to the client and the session keeps accumulating.
func (d *Driver) HandleAudio(ctx context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return ErrClosed
	}
	if len(data) == 0 {
		return nil
	}

	d.lastActivity = time.Now()
	d.chunksReceived++
	d.state = StateAccumulating

	if d.metrics != nil {
		d.metrics.RecordAudioChunk()
	}

	d.envelope.Append(data)

	if !d.envelope.ReadyToDecode(d.config.MinCompressedBytes, d.config.ForceDecodeTimeout) {
		return nil
	}

	if err := d.decodePending(ctx); err != nil {
		d.logger.Warn("decode failed, continuing to accumulate",
			"session_id", d.id, "error", err)
		d.sendEvent(protocol.NewErrorEvent("failed to decode audio chunk"))
		d.state = StateAccumulating
		return nil
	}

	if d.pcm.Duration() >= d.config.BufferDuration && d.pcm.Duration() >= d.config.MinAudioDuration {
		d.transcribePass(ctx)
	}

	d.state = StateAccumulating
	return nil
}

// decodePending decodes the whole envelope and appends only the PCM produced
// past the last decode. Streamable containers carry their header in the first
// bytes, so each pass re-decodes from the start of the envelope.
// Callers must hold the mutex.
func (d *Driver) decodePending(ctx context.Context) error {
	d.state = StateDecoding
	start := time.Now()

	pcm, err := d.decoder.Decode(ctx, d.envelope.Bytes())
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordDecodeError()
		}
		return err
	}

	d.envelope.MarkDecoded()

	if len(pcm) <= d.lastDecodedLen {
		return nil
	}

	fresh := pcm[d.lastDecodedLen:]
	d.lastDecodedLen = len(pcm)

	if err := d.pcm.Append(fresh); err != nil {
		return fmt.Errorf("failed to buffer decoded audio: %w", err)
	}

	if d.metrics != nil {
		d.metrics.RecordDecode(time.Since(start).Seconds(),
			d.config.Format.DurationOf(len(fresh)).Seconds())
	}

	return nil
}

// transcribePass transcribes the buffered PCM and emits an update. Under the
// sliding-window strategy the buffer is trimmed to the overlap tail afterwards;
// under the growing-buffer strategy it keeps growing and each pass replaces
// the full transcript. Callers must hold the mutex.
func (d *Driver) transcribePass(ctx context.Context) {
	d.state = StateTranscribing

	buffered := d.pcm.Duration()

	wav, err := audio.EncodeWAV(d.pcm.Bytes(), d.config.Format)
	if err != nil {
		d.logger.Warn("failed to encode transcription window",
			"session_id", d.id, "error", err)
		return
	}

	start := time.Now()
	text, err := d.transcriber.Transcribe(ctx, wav)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordTranscriptionFailure(time.Since(start).Seconds())
		}
		d.logger.Warn("transcription failed, keeping buffered audio",
			"session_id", d.id,
			"buffered", buffered,
			"error", err)
		d.sendEvent(protocol.NewErrorEvent("transcription failed for this chunk"))
		return
	}
	if d.metrics != nil {
		d.metrics.RecordTranscriptionRequest()
		d.metrics.RecordTranscriptionSuccess(time.Since(start).Seconds())
	}

	text = strings.TrimSpace(text)

	if d.config.Strategy == StrategyGrowingBuffer {
		if text != "" {
			d.fullTranscript = text
			d.sendEvent(protocol.NewTranscriptionUpdate(text, text, buffered.Seconds()))
		}
		return
	}

	if text != "" {
		d.fragments = append(d.fragments, text)
		d.sendEvent(protocol.NewTranscriptionUpdate(text, d.transcript(), buffered.Seconds()))
	}
	d.pcm.TrimToTail(d.config.Overlap)
}

// HandleControl dispatches one parsed control message
func (d *Driver) HandleControl(ctx context.Context, control *protocol.Control) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return ErrClosed
	}

	d.lastActivity = time.Now()

	switch control.Type {
	case protocol.ControlTypeConfig:
		return d.handleConfig(control)
	case protocol.ControlTypeStop:
		return d.handleStop(ctx)
	case protocol.ControlTypeSave:
		return d.handleSave(ctx)
	case protocol.ControlTypeDiscard:
		return d.handleDiscard()
	default:
		d.sendEvent(protocol.NewErrorEvent(fmt.Sprintf("unknown control type: %s", control.Type)))
		return fmt.Errorf("%w: unknown control type %q", ErrProtocol, control.Type)
	}
}

func (d *Driver) handleConfig(control *protocol.Control) error {
	if control.SampleRate > 0 && control.SampleRate != d.config.Format.SampleRate {
		d.sendEvent(protocol.NewErrorEvent(fmt.Sprintf(
			"unsupported sample_rate %d, expected %d",
			control.SampleRate, d.config.Format.SampleRate)))
		return fmt.Errorf("%w: unsupported sample_rate %d", ErrProtocol, control.SampleRate)
	}

	d.sendEvent(protocol.NewConfigAck(d.id))
	return nil
}

// handleStop drains any remaining audio through one final transcription and
// closes the session without persisting anything
func (d *Driver) handleStop(ctx context.Context) error {
	d.drainRemaining(ctx)
	d.sendEvent(protocol.NewStopped(d.transcript()))
	d.close()
	return nil
}

// handleSave finalizes the session: drains the buffers, then funnels the full
// transcript through the batch persistence path. A save with nothing to
// persist is a protocol error; the session stays open so the client can keep
// streaming.
func (d *Driver) handleSave(ctx context.Context) error {
	d.state = StateFinalizing

	d.drainRemaining(ctx)

	transcript := strings.TrimSpace(d.transcript())
	if transcript == "" {
		d.sendEvent(protocol.NewErrorEvent("nothing to save: no transcribable audio received"))
		d.state = StateAccumulating
		return fmt.Errorf("%w: save with no transcript", ErrProtocol)
	}

	result, err := d.finalizer.ProcessTranscript(ctx, transcript, "live")
	if err != nil {
		d.logger.Error("session finalization failed",
			"session_id", d.id, "error", err)
		d.sendEvent(protocol.NewErrorEvent("failed to save session"))
		d.close()
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	d.sendEvent(completedEvent(result))
	if d.metrics != nil {
		d.metrics.RecordSessionSaved()
	}

	d.logger.Info("session saved",
		"session_id", d.id,
		"job_id", result.JobID,
		"instructions", len(result.Instructions),
		"chunks_received", d.chunksReceived)

	d.close()
	return nil
}

func (d *Driver) handleDiscard() error {
	d.sendEvent(protocol.NewDiscarded())
	if d.metrics != nil {
		d.metrics.RecordSessionDiscarded()
	}
	d.close()
	return nil
}

// drainRemaining decodes whatever sits in the envelope and runs one final
// transcription over any remaining viable PCM. Failures are logged; draining
// is best effort. Callers must hold the mutex.
func (d *Driver) drainRemaining(ctx context.Context) {
	if d.envelope.HasPending() {
		if err := d.decodePending(ctx); err != nil {
			d.logger.Warn("final decode failed", "session_id", d.id, "error", err)
		}
	}

	if d.pcm.Duration() < d.config.MinAudioDuration {
		return
	}

	wav, err := audio.EncodeWAV(d.pcm.Bytes(), d.config.Format)
	if err != nil {
		d.logger.Warn("failed to encode final window", "session_id", d.id, "error", err)
		return
	}

	text, err := d.transcriber.Transcribe(ctx, wav)
	if err != nil {
		d.logger.Warn("final transcription failed", "session_id", d.id, "error", err)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if d.config.Strategy == StrategyGrowingBuffer {
		d.fullTranscript = text
	} else {
		d.fragments = append(d.fragments, text)
	}
	d.pcm.Reset()
}

// Close releases the session without emitting any event, as when the client
// disconnects. Equivalent to an implicit discard: nothing is persisted.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return
	}
	d.close()
}

// close releases buffers and marks the session finished.
// Callers must hold the mutex.
func (d *Driver) close() {
	d.state = StateClosed
	d.envelope.Reset()
	d.pcm.Reset()
	d.fragments = nil
	d.fullTranscript = ""

	if d.metrics != nil {
		d.metrics.RecordSessionClosed(time.Since(d.startTime).Seconds())
	}

	if d.onClose != nil {
		d.onClose()
		d.onClose = nil
	}
}

// sendEvent emits one event to the client. Callers must hold the mutex.
func (d *Driver) sendEvent(event any) {
	d.emit(event)
}

// completedEvent maps a persisted job result onto the session saved event
func completedEvent(result *pipeline.JobResult) protocol.Completed {
	instructions := make([]protocol.InstructionResult, len(result.Instructions))
	for i, inst := range result.Instructions {
		steps := make([]protocol.StepAudio, len(inst.Steps))
		for j, step := range inst.Steps {
			steps[j] = protocol.StepAudio{
				StepIndex: step.StepIndex,
				Text:      step.Text,
				AudioURL:  step.AudioURL,
			}
		}
		instructions[i] = protocol.InstructionResult{
			InstructionIndex: inst.InstructionIndex,
			Text:             inst.Text,
			Steps:            steps,
		}
	}

	return protocol.NewCompleted(result.JobID, result.Transcript, instructions)
}
