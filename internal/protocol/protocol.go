package protocol

import (
	"encoding/json"
	"fmt"
)

// Control message types sent by live clients as JSON text frames
const (
	ControlTypeConfig  = "config"
	ControlTypeStop    = "stop"
	ControlTypeSave    = "save_session"
	ControlTypeDiscard = "discard_session"
)

// Event types sent to live clients
const (
	EventTypeConfigAck           = "config_ack"
	EventTypeTranscriptionUpdate = "transcription_update"
	EventTypeStopped             = "stopped"
	EventTypeCompleted           = "session_saved"
	EventTypeDiscarded           = "session_discarded"
	EventTypeError               = "error"
)

// Control represents a parsed client control message. Binary frames carry
// audio and never reach this parser; only text frames are control messages.
type Control struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Language   string `json:"language,omitempty"`
}

// ConfigAck acknowledges a client config message and assigns the session ID
type ConfigAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// TranscriptionUpdate carries an incremental transcription result
type TranscriptionUpdate struct {
	Type            string  `json:"type"`
	Text            string  `json:"text"`
	FullText        string  `json:"full_text"`
	BufferedSeconds float64 `json:"buffered_seconds"`
}

// Stopped reports the final accumulated transcript after a stop control
type Stopped struct {
	Type     string `json:"type"`
	FullText string `json:"full_text"`
}

// StepAudio is one synthesized step inside a saved session result
type StepAudio struct {
	StepIndex int    `json:"step_index"`
	Text      string `json:"text"`
	AudioURL  string `json:"audio_url"`
}

// InstructionResult is one extracted instruction inside a saved session result
type InstructionResult struct {
	InstructionIndex int         `json:"instruction_index"`
	Text             string      `json:"text"`
	Steps            []StepAudio `json:"steps"`
}

// Completed reports the persisted job produced by a save control
type Completed struct {
	Type         string              `json:"type"`
	JobID        string              `json:"job_id"`
	Transcript   string              `json:"transcript"`
	Instructions []InstructionResult `json:"instructions"`
}

// Discarded confirms a discard control
type Discarded struct {
	Type string `json:"type"`
}

// ErrorEvent reports a recoverable or fatal session error
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParseControl parses and validates a client control message
func ParseControl(data []byte) (*Control, error) {
	var control Control
	if err := json.Unmarshal(data, &control); err != nil {
		return nil, fmt.Errorf("malformed control message: %w", err)
	}

	if !IsValidControlType(control.Type) {
		return nil, fmt.Errorf("unknown control type: %q", control.Type)
	}

	if control.Type == ControlTypeConfig {
		if control.SampleRate < 0 {
			return nil, fmt.Errorf("sample_rate cannot be negative, got %d", control.SampleRate)
		}
	}

	return &control, nil
}

// IsValidControlType checks if the control type is valid
func IsValidControlType(t string) bool {
	switch t {
	case ControlTypeConfig, ControlTypeStop, ControlTypeSave, ControlTypeDiscard:
		return true
	}
	return false
}

// NewConfigAck builds a config acknowledgment event
func NewConfigAck(sessionID string) ConfigAck {
	return ConfigAck{Type: EventTypeConfigAck, SessionID: sessionID}
}

// NewTranscriptionUpdate builds an incremental transcription event
func NewTranscriptionUpdate(text, fullText string, bufferedSeconds float64) TranscriptionUpdate {
	return TranscriptionUpdate{
		Type:            EventTypeTranscriptionUpdate,
		Text:            text,
		FullText:        fullText,
		BufferedSeconds: bufferedSeconds,
	}
}

// NewStopped builds a stopped event with the final transcript
func NewStopped(fullText string) Stopped {
	return Stopped{Type: EventTypeStopped, FullText: fullText}
}

// NewCompleted builds a session saved event
func NewCompleted(jobID, transcript string, instructions []InstructionResult) Completed {
	if instructions == nil {
		instructions = []InstructionResult{}
	}
	return Completed{
		Type:         EventTypeCompleted,
		JobID:        jobID,
		Transcript:   transcript,
		Instructions: instructions,
	}
}

// NewDiscarded builds a session discarded event
func NewDiscarded() Discarded {
	return Discarded{Type: EventTypeDiscarded}
}

// NewErrorEvent builds an error event
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventTypeError, Message: message}
}

// Encode serializes an event for transmission as a text frame
func Encode(event any) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

// String returns a human-readable representation of the control message
func (c *Control) String() string {
	if c.Type == ControlTypeConfig {
		return fmt.Sprintf("Control{Type:%s, SampleRate:%d, Language:%q}", c.Type, c.SampleRate, c.Language)
	}
	return fmt.Sprintf("Control{Type:%s}", c.Type)
}
