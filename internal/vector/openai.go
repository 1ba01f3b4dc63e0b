package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openaiEmbeddingsURL = "https://api.openai.com/v1/embeddings"

	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "text-embedding-3-small"

	defaultHTTPTimeout = 30 * time.Second
)

// OpenAIEmbedder implements the Embedder interface against OpenAI's
// embeddings API.
type OpenAIEmbedder struct {
	Config
	httpClient *http.Client
}

// openaiEmbeddingRequest represents a request to the embeddings API.
type openaiEmbeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// openaiEmbeddingResponse represents a response from the embeddings API.
type openaiEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates a new instance of the OpenAI embedder.
func NewOpenAIEmbedder(config Config) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		Config: config,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// Initialize validates the embedder configuration.
func (e *OpenAIEmbedder) Initialize() error {
	if e.APIKey == "" {
		return fmt.Errorf("OpenAI API key not provided")
	}
	return nil
}

// CreateEmbedding implements the Embedder interface for OpenAI.
func (e *OpenAIEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided")
	}

	model := e.ModelID
	if model == "" {
		model = DefaultOpenAIModel
	}

	reqBody := openaiEmbeddingRequest{
		Model:      model,
		Input:      text,
		Dimensions: e.Dimensions,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %v", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		openaiEmbeddingsURL,
		strings.NewReader(string(reqJSON)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.APIKey))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request to OpenAI API: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %v", err)
	}

	var embeddingResponse openaiEmbeddingResponse
	if err := json.Unmarshal(respBody, &embeddingResponse); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %v", err)
	}

	if embeddingResponse.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s: %s",
			embeddingResponse.Error.Type, embeddingResponse.Error.Message)
	}

	if len(embeddingResponse.Data) == 0 || len(embeddingResponse.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding from OpenAI API")
	}

	return embeddingResponse.Data[0].Embedding, nil
}
