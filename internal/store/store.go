package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested job does not exist
var ErrNotFound = errors.New("job not found")

const schema = `
CREATE TABLE IF NOT EXISTS audio_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL UNIQUE,
	transcript TEXT NOT NULL,
	source TEXT NOT NULL,
	instruction_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS instructions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	instruction_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	steps TEXT NOT NULL,
	UNIQUE(job_id, instruction_index)
);

CREATE TABLE IF NOT EXISTS audio_chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	instruction_index INTEGER NOT NULL,
	step_index INTEGER NOT NULL,
	step_text TEXT NOT NULL,
	s3_key TEXT NOT NULL,
	audio_url TEXT NOT NULL,
	UNIQUE(job_id, instruction_index, step_index)
);

CREATE INDEX IF NOT EXISTS idx_instructions_job ON instructions(job_id);
CREATE INDEX IF NOT EXISTS idx_chunks_job ON audio_chunks(job_id);
`

// Job represents a persisted processing job
type Job struct {
	JobID            string    `json:"job_id"`
	Transcript       string    `json:"transcript"`
	Source           string    `json:"source"`
	InstructionCount int       `json:"instruction_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Instruction is one extracted instruction belonging to a job
type Instruction struct {
	InstructionIndex int      `json:"instruction_index"`
	Text             string   `json:"text"`
	Steps            []string `json:"steps"`
}

// Chunk is one synthesized audio artifact belonging to an instruction step
type Chunk struct {
	InstructionIndex int    `json:"instruction_index"`
	StepIndex        int    `json:"step_index"`
	StepText         string `json:"step_text"`
	S3Key            string `json:"s3_key"`
	AudioURL         string `json:"audio_url"`
}

// InstructionDetail pairs an instruction with its synthesized chunks
type InstructionDetail struct {
	Instruction
	Chunks []Chunk `json:"chunks"`
}

// JobDetail is a job with its full instruction and chunk tree
type JobDetail struct {
	Job
	Instructions []InstructionDetail `json:"instructions"`
}

// JobStore persists jobs, instructions, and audio chunk records in SQLite
type JobStore struct {
	db *sql.DB
}

// Open opens the job store at path, creating the schema if needed
func Open(path string) (*JobStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &JobStore{db: db}, nil
}

// Close closes the underlying database
func (s *JobStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job row
func (s *JobStore) CreateJob(ctx context.Context, job Job) error {
	if job.JobID == "" {
		return fmt.Errorf("job_id cannot be empty")
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_jobs (job_id, transcript, source, instruction_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Transcript, job.Source, job.InstructionCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.JobID, err)
	}

	return nil
}

// AddInstruction inserts one instruction for a job
func (s *JobStore) AddInstruction(ctx context.Context, jobID string, inst Instruction) error {
	steps, err := json.Marshal(inst.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO instructions (job_id, instruction_index, text, steps) VALUES (?, ?, ?, ?)`,
		jobID, inst.InstructionIndex, inst.Text, string(steps))
	if err != nil {
		return fmt.Errorf("failed to add instruction %d to job %s: %w", inst.InstructionIndex, jobID, err)
	}

	return nil
}

// AddChunk inserts one synthesized audio chunk record for a job
func (s *JobStore) AddChunk(ctx context.Context, jobID string, chunk Chunk) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_chunks (job_id, instruction_index, step_index, step_text, s3_key, audio_url)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, chunk.InstructionIndex, chunk.StepIndex, chunk.StepText, chunk.S3Key, chunk.AudioURL)
	if err != nil {
		return fmt.Errorf("failed to add chunk %d/%d to job %s: %w",
			chunk.InstructionIndex, chunk.StepIndex, jobID, err)
	}

	return nil
}

// GetJob returns the bare job row for jobID
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, transcript, source, instruction_count, created_at, updated_at
		 FROM audio_jobs WHERE job_id = ?`,
		jobID).Scan(&job.JobID, &job.Transcript, &job.Source,
		&job.InstructionCount, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	return &job, nil
}

// DefaultListLimit bounds ListJobs when the caller passes no limit
const DefaultListLimit = 100

// ListJobs returns up to limit jobs, most recent first. A limit of zero or
// less falls back to DefaultListLimit.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, transcript, source, instruction_count, created_at, updated_at
		 FROM audio_jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.JobID, &job.Transcript, &job.Source,
			&job.InstructionCount, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// GetJobDetail returns a job with its instructions and chunks, ordered by index
func (s *JobStore) GetJobDetail(ctx context.Context, jobID string) (*JobDetail, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	detail := &JobDetail{Job: *job, Instructions: []InstructionDetail{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT instruction_index, text, steps FROM instructions
		 WHERE job_id = ? ORDER BY instruction_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instructions for job %s: %w", jobID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var inst InstructionDetail
		var steps string
		if err := rows.Scan(&inst.InstructionIndex, &inst.Text, &steps); err != nil {
			return nil, fmt.Errorf("failed to scan instruction: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &inst.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps for instruction %d: %w", inst.InstructionIndex, err)
		}
		inst.Chunks = []Chunk{}
		detail.Instructions = append(detail.Instructions, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chunks, err := s.listChunks(ctx, jobID)
	if err != nil {
		return nil, err
	}

	byIndex := make(map[int]int, len(detail.Instructions))
	for i, inst := range detail.Instructions {
		byIndex[inst.InstructionIndex] = i
	}
	for _, chunk := range chunks {
		if i, ok := byIndex[chunk.InstructionIndex]; ok {
			detail.Instructions[i].Chunks = append(detail.Instructions[i].Chunks, chunk)
		}
	}

	return detail, nil
}

// listChunks returns all chunks for a job ordered by instruction and step
func (s *JobStore) listChunks(ctx context.Context, jobID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instruction_index, step_index, step_text, s3_key, audio_url FROM audio_chunks
		 WHERE job_id = ? ORDER BY instruction_index, step_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks for job %s: %w", jobID, err)
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(&chunk.InstructionIndex, &chunk.StepIndex,
			&chunk.StepText, &chunk.S3Key, &chunk.AudioURL); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// ListChunkKeys returns the storage keys of all chunks belonging to a job
func (s *JobStore) ListChunkKeys(ctx context.Context, jobID string) ([]string, error) {
	chunks, err := s.listChunks(ctx, jobID)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.S3Key != "" {
			keys = append(keys, chunk.S3Key)
		}
	}

	return keys, nil
}

// DeleteJob removes a job and all of its instructions and chunks in one
// transaction. Returns ErrNotFound without writing anything if the job
// does not exist.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM audio_jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM instructions WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete instructions for job %s: %w", jobID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM audio_chunks WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete chunks for job %s: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of job %s: %w", jobID, err)
	}

	return nil
}

// CountJobs returns the total number of stored jobs
func (s *JobStore) CountJobs(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audio_jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}
