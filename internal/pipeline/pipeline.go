package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beingfastian/apd-listener-tool/internal/audio"
	"github.com/beingfastian/apd-listener-tool/internal/extract"
	"github.com/beingfastian/apd-listener-tool/internal/metrics"
	"github.com/beingfastian/apd-listener-tool/internal/store"
)

// Transcriber converts WAV audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (string, error)
}

// Extractor turns a transcript into structured instructions
type Extractor interface {
	Extract(ctx context.Context, transcript string) ([]extract.Instruction, error)
}

// Synthesizer converts step text into audio bytes
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ArtifactStore persists synthesized audio and addresses it by step
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	StepAudioKey(jobID string, instructionIndex, stepIndex int) string
}

// StepResult is one synthesized step. AudioURL is empty when synthesis
// or upload failed for this step.
type StepResult struct {
	StepIndex int    `json:"step_index"`
	Text      string `json:"text"`
	AudioURL  string `json:"audio_url"`
}

// InstructionResult is one extracted instruction with its synthesized steps
type InstructionResult struct {
	InstructionIndex int          `json:"instruction_index"`
	Text             string       `json:"text"`
	Steps            []StepResult `json:"steps"`
}

// JobResult is the outcome of a completed pipeline run
type JobResult struct {
	JobID            string              `json:"job_id"`
	Transcript       string              `json:"transcript"`
	InstructionCount int                 `json:"instruction_count"`
	Instructions     []InstructionResult `json:"instructions"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Config contains pipeline configuration
type Config struct {
	SynthesisWorkers int
	JobTimeout       time.Duration
	AudioFormat      audio.Format
}

// Pipeline runs the transcript to persisted-job flow: extraction,
// per-step synthesis, artifact upload, and database writes.
type Pipeline struct {
	config      Config
	decoder     audio.Decoder
	transcriber Transcriber
	extractor   Extractor
	synthesizer Synthesizer
	artifacts   ArtifactStore
	jobs        *store.JobStore
	metrics     *metrics.Metrics
	notifier    *Notifier
	logger      *slog.Logger

	workers chan struct{} // synthesis fan-out semaphore

	newJobID func() string
}

// New creates a pipeline. The notifier may be nil when no webhook is configured.
func New(config Config, decoder audio.Decoder, transcriber Transcriber, extractor Extractor,
	synthesizer Synthesizer, artifacts ArtifactStore, jobs *store.JobStore,
	m *metrics.Metrics, notifier *Notifier, logger *slog.Logger) (*Pipeline, error) {

	if decoder == nil || transcriber == nil || extractor == nil ||
		synthesizer == nil || artifacts == nil || jobs == nil {
		return nil, fmt.Errorf("all pipeline dependencies must be set")
	}

	if config.SynthesisWorkers <= 0 {
		config.SynthesisWorkers = 4
	}

	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		config:      config,
		decoder:     decoder,
		transcriber: transcriber,
		extractor:   extractor,
		synthesizer: synthesizer,
		artifacts:   artifacts,
		jobs:        jobs,
		metrics:     m,
		notifier:    notifier,
		logger:      logger,
		workers:     make(chan struct{}, config.SynthesisWorkers),
		newJobID:    NewJobID,
	}, nil
}

// NewJobID generates a job identifier: a UTC timestamp plus a random suffix
func NewJobID() string {
	return time.Now().UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// ProcessAudio runs the full pipeline on an uploaded audio file. The run is
// detached from the caller's cancellation so a dropped request cannot strand
// a half-persisted job; only the job timeout bounds it.
func (p *Pipeline) ProcessAudio(ctx context.Context, compressed []byte) (*JobResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.JobTimeout)
	defer cancel()

	pcm, err := p.decoder.Decode(ctx, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode uploaded audio: %w", err)
	}

	wav, err := audio.EncodeWAV(pcm, p.config.AudioFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WAV: %w", err)
	}

	start := time.Now()
	transcript, err := p.transcriber.Transcribe(ctx, wav)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordTranscriptionFailure(time.Since(start).Seconds())
		}
		return nil, fmt.Errorf("failed to transcribe audio: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordTranscriptionRequest()
		p.metrics.RecordTranscriptionSuccess(time.Since(start).Seconds())
	}

	return p.ProcessTranscript(ctx, transcript, "audio")
}

// ProcessText runs the pipeline on raw transcript text, detached from the
// caller's cancellation like ProcessAudio
func (p *Pipeline) ProcessText(ctx context.Context, text string) (*JobResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.JobTimeout)
	defer cancel()

	return p.ProcessTranscript(ctx, text, "text")
}

// ProcessTranscript extracts instructions from a transcript, synthesizes
// audio for each step, uploads the artifacts, and persists the job.
// A failed step yields an empty AudioURL; it never fails the job.
func (p *Pipeline) ProcessTranscript(ctx context.Context, transcript, source string) (*JobResult, error) {
	start := time.Now()

	transcript = strings.TrimSpace(transcript)

	instructions, err := p.extractor.Extract(ctx, transcript)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordExtractionFailure()
		}
		return nil, fmt.Errorf("failed to extract instructions: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordExtraction(len(instructions))
	}

	jobID := p.newJobID()
	createdAt := time.Now().UTC()

	if err := p.jobs.CreateJob(ctx, store.Job{
		JobID:            jobID,
		Transcript:       transcript,
		Source:           source,
		InstructionCount: len(instructions),
		CreatedAt:        createdAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	result := &JobResult{
		JobID:            jobID,
		Transcript:       transcript,
		InstructionCount: len(instructions),
		Instructions:     make([]InstructionResult, len(instructions)),
		CreatedAt:        createdAt,
	}

	for i, inst := range instructions {
		if err := p.jobs.AddInstruction(ctx, jobID, store.Instruction{
			InstructionIndex: i,
			Text:             inst.Text,
			Steps:            inst.Steps,
		}); err != nil {
			return nil, fmt.Errorf("failed to persist instruction %d: %w", i, err)
		}

		result.Instructions[i] = InstructionResult{
			InstructionIndex: i,
			Text:             inst.Text,
			Steps:            p.synthesizeSteps(ctx, jobID, i, inst.Steps),
		}

		for _, step := range result.Instructions[i].Steps {
			chunk := store.Chunk{
				InstructionIndex: i,
				StepIndex:        step.StepIndex,
				StepText:         step.Text,
				AudioURL:         step.AudioURL,
			}
			if step.AudioURL != "" {
				chunk.S3Key = p.artifacts.StepAudioKey(jobID, i, step.StepIndex)
			}
			if err := p.jobs.AddChunk(ctx, jobID, chunk); err != nil {
				return nil, fmt.Errorf("failed to persist chunk %d/%d: %w", i, step.StepIndex, err)
			}
		}
	}

	if p.metrics != nil {
		p.metrics.RecordJobCreated(time.Since(start).Seconds())
	}

	p.logger.Info("job completed",
		"job_id", jobID,
		"source", source,
		"instructions", len(instructions),
		"duration", time.Since(start))

	if p.notifier != nil && len(instructions) > 0 {
		p.notifier.Notify(result)
	}

	return result, nil
}

// synthesizeSteps fans step synthesis out over the shared worker pool and
// returns the results in step order
func (p *Pipeline) synthesizeSteps(ctx context.Context, jobID string, instructionIndex int, steps []string) []StepResult {
	results := make([]StepResult, len(steps))

	var wg sync.WaitGroup
	for j, text := range steps {
		results[j] = StepResult{StepIndex: j, Text: text}

		wg.Add(1)
		go func(j int, text string) {
			defer wg.Done()

			select {
			case p.workers <- struct{}{}:
				defer func() { <-p.workers }()
			case <-ctx.Done():
				return
			}

			results[j].AudioURL = p.synthesizeStep(ctx, jobID, instructionIndex, j, text)
		}(j, text)
	}
	wg.Wait()

	return results
}

// synthesizeStep produces and uploads audio for one step, returning its URL
// or empty on failure
func (p *Pipeline) synthesizeStep(ctx context.Context, jobID string, instructionIndex, stepIndex int, text string) string {
	start := time.Now()

	audioBytes, err := p.synthesizer.Synthesize(ctx, text)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordSynthesisFailure(time.Since(start).Seconds())
		}
		p.logger.Warn("step synthesis failed",
			"job_id", jobID,
			"instruction_index", instructionIndex,
			"step_index", stepIndex,
			"error", err)
		return ""
	}
	if p.metrics != nil {
		p.metrics.RecordSynthesisSuccess(time.Since(start).Seconds())
	}

	key := p.artifacts.StepAudioKey(jobID, instructionIndex, stepIndex)
	url, err := p.artifacts.Put(ctx, key, audioBytes, "audio/mpeg")
	if err != nil {
		p.logger.Warn("step audio upload failed",
			"job_id", jobID,
			"instruction_index", instructionIndex,
			"step_index", stepIndex,
			"error", err)
		return ""
	}

	return url
}

// DeleteJob removes a job's stored artifacts and then its database rows.
// Artifact delete failures are logged and do not block the row delete.
func (p *Pipeline) DeleteJob(ctx context.Context, jobID string) error {
	keys, err := p.jobs.ListChunkKeys(ctx, jobID)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := p.artifacts.Delete(ctx, key); err != nil {
			p.logger.Warn("failed to delete artifact", "job_id", jobID, "key", key, "error", err)
		}
	}

	if err := p.jobs.DeleteJob(ctx, jobID); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.RecordJobDeleted()
	}

	p.logger.Info("job deleted", "job_id", jobID, "artifacts", len(keys))
	return nil
}
