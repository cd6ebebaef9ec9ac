package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrUpstream indicates the language model provider rejected or failed the request
var ErrUpstream = errors.New("extraction upstream error")

const systemPrompt = `You are an assistant that extracts actionable classroom instructions from a teacher's spoken transcript.
Identify each distinct instruction the teacher gives to students. Ignore filler, anecdotes, and questions.
Respond with a JSON object of the form:
{"instructions": [{"text": "<full instruction>", "steps": ["<step 1>", "<step 2>"]}]}
Break an instruction into steps only when it contains clearly sequential actions. Otherwise use a single step equal to the instruction text.
If the transcript contains no instructions, respond with {"instructions": []}.`

// Instruction is one extracted instruction with its ordered steps
type Instruction struct {
	Text  string   `json:"text"`
	Steps []string `json:"steps"`
}

// Config contains extractor configuration
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	SplitSteps  bool
}

// Extractor turns free-form transcripts into structured instructions
// using a chat completion model constrained to JSON output
type Extractor struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	splitSteps  bool
}

// New creates an extractor backed by the OpenAI chat completions API
func New(config Config) (*Extractor, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Extractor{
		client:      openai.NewClient(option.WithAPIKey(config.APIKey)),
		model:       config.Model,
		temperature: config.Temperature,
		timeout:     config.Timeout,
		splitSteps:  config.SplitSteps,
	}, nil
}

// Extract returns the instructions found in transcript, in the order the
// model emitted them. An empty or unintelligible model response yields an
// empty slice rather than an error; only transport and API failures error.
func (e *Extractor) Extract(ctx context.Context, transcript string) ([]Instruction, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return []Instruction{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(transcript),
		},
		Temperature: openai.Float(e.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if len(resp.Choices) == 0 {
		return []Instruction{}, nil
	}

	return e.parseContent(resp.Choices[0].Message.Content), nil
}

// parseContent normalizes the model's JSON into instructions. The model
// sometimes emits plain strings instead of {text, steps} objects; both
// shapes are accepted. Anything else is dropped.
func (e *Extractor) parseContent(content string) []Instruction {
	var envelope struct {
		Instructions []json.RawMessage `json:"instructions"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return []Instruction{}
	}

	instructions := make([]Instruction, 0, len(envelope.Instructions))
	for _, raw := range envelope.Instructions {
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			if inst, ok := e.normalize(asString, nil); ok {
				instructions = append(instructions, inst)
			}
			continue
		}

		var asObject struct {
			Text  string   `json:"text"`
			Steps []string `json:"steps"`
		}
		if err := json.Unmarshal(raw, &asObject); err == nil {
			if inst, ok := e.normalize(asObject.Text, asObject.Steps); ok {
				instructions = append(instructions, inst)
			}
		}
	}

	return instructions
}

// normalize builds a clean instruction from raw model output
func (e *Extractor) normalize(text string, steps []string) (Instruction, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Instruction{}, false
	}

	cleaned := make([]string, 0, len(steps))
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, Capitalize(s))
		}
	}

	if len(cleaned) == 0 {
		if e.splitSteps {
			cleaned = SplitSteps(text)
		}
		if len(cleaned) == 0 {
			cleaned = []string{Capitalize(text)}
		}
	}

	return Instruction{Text: Capitalize(text), Steps: cleaned}, true
}

// SplitSteps breaks an instruction sentence into individual steps by
// conjunctions. "then" is treated as "and", leading politeness words are
// stripped, and each step is capitalized.
func SplitSteps(text string) []string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.ReplaceAll(t, " then ", " and ")

	parts := strings.Split(t, " and ")
	steps := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = stripLeadingFiller(p)
		if p != "" {
			steps = append(steps, Capitalize(p))
		}
	}

	return steps
}

// stripLeadingFiller removes politeness prefixes like "students," or "please"
func stripLeadingFiller(s string) string {
	for {
		stripped := false
		for _, prefix := range []string{"students", "please", "kindly"} {
			if strings.HasPrefix(s, prefix) {
				rest := s[len(prefix):]
				if rest == "" {
					return ""
				}
				if rest[0] == ' ' || rest[0] == ',' {
					s = strings.TrimLeft(rest, ", ")
					stripped = true
				}
			}
		}
		if !stripped {
			return s
		}
	}
}

// Capitalize upper-cases the first letter of s
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
