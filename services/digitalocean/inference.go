package digitalocean

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const (
	// DefaultChatModel is used for document generation
	DefaultChatModel = "openai-gpt-oss-120b"
	// DefaultEmbeddingModel produces the vectors stored per chunk
	DefaultEmbeddingModel = "gte-large-en-v1.5"
	// DefaultWhisperModel transcribes audio
	DefaultWhisperModel = "whisper-large-v3"
)

// InferenceMessage represents a message in a chat completion request
type InferenceMessage struct {
	Role    string `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"` // The message content
}

// InferenceRequest is an OpenAI-compatible chat completion request
type InferenceRequest struct {
	Model       string             `json:"model"`
	Messages    []InferenceMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

// InferenceChoice represents a choice in the inference response
type InferenceChoice struct {
	Index        int              `json:"index"`
	Message      InferenceMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// InferenceUsage represents token usage information
type InferenceUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// InferenceResponse represents the response from the chat completion API
type InferenceResponse struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []InferenceChoice `json:"choices"`
	Usage   InferenceUsage    `json:"usage"`
}

// InferenceOption is a function that modifies the inference request
type InferenceOption func(*InferenceRequest)

// WithTemperature sets the temperature for the request
func WithTemperature(temp float64) InferenceOption {
	return func(req *InferenceRequest) {
		req.Temperature = temp
	}
}

// WithMaxTokens sets the max tokens for the request
func WithMaxTokens(tokens int) InferenceOption {
	return func(req *InferenceRequest) {
		req.MaxTokens = tokens
	}
}

// WithModel overrides the model for the request
func WithModel(model string) InferenceOption {
	return func(req *InferenceRequest) {
		req.Model = model
	}
}

// ChatCompletion sends a chat completion request to the inference API
func (c *Client) ChatCompletion(ctx context.Context, messages []InferenceMessage, options ...InferenceOption) (*InferenceResponse, error) {
	req := InferenceRequest{
		Model:       DefaultChatModel,
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   4096,
	}
	for _, opt := range options {
		opt(&req)
	}

	var resp InferenceResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/chat/completions", req, &resp); err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return &resp, nil
}

// SimpleCompletion is a convenience wrapper: one system prompt, one user
// prompt, returns the assistant text.
func (c *Client) SimpleCompletion(ctx context.Context, systemPrompt, userPrompt string, options ...InferenceOption) (string, error) {
	messages := []InferenceMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
	resp, err := c.ChatCompletion(ctx, messages, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// EmbeddingRequest asks for vectors over a batch of inputs
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingData is one vector in the response
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingResponse represents the response from the embeddings API
type EmbeddingResponse struct {
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Data   []EmbeddingData `json:"data"`
	Usage  InferenceUsage  `json:"usage"`
}

// Embeddings returns one vector per input string, in input order.
func (c *Client) Embeddings(ctx context.Context, inputs []string) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embeddings: no inputs")
	}

	req := EmbeddingRequest{
		Model: DefaultEmbeddingModel,
		Input: inputs,
	}
	var resp EmbeddingResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/embeddings", req, &resp); err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings: expected %d vectors, got %d", len(inputs), len(resp.Data))
	}

	vectors := make([][]float64, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			return nil, fmt.Errorf("embeddings: vector index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// TranscriptionSegment is one timed span of a transcript
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResponse represents the response from the audio API
type TranscriptionResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Segments []TranscriptionSegment `json:"segments"`
}

// TranscribeAudio uploads an audio stream and returns its transcript with
// timed segments. filename matters only for format detection server-side.
func (c *Client) TranscribeAudio(ctx context.Context, filename string, audio io.Reader) (*TranscriptionResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("failed to buffer audio for transcription: %w", err)
	}
	if err := writer.WriteField("model", DefaultWhisperModel); err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize transcription request: %w", err)
	}

	var resp TranscriptionResponse
	if err := c.doMultipart(ctx, "/v1/audio/transcriptions", writer.FormDataContentType(), &buf, &resp); err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	if resp.Text == "" {
		return nil, fmt.Errorf("transcription returned empty text")
	}
	return &resp, nil
}
