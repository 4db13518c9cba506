package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"akash-router/internal/models"
)

const (
	modelOwner         = "akash-network"
	modelCreatedOffset = 10000

	embeddingDimensions = 1536
	embeddingStdDev     = 0.1
)

var errEmptyInput = errors.New("input must not be empty")

// ModelList is the /v1/models envelope.
type ModelList struct {
	Object string         `json:"object"`
	Data   []openai.Model `json:"data"`
}

// FromDescriptors lists descriptors in the OpenAI models shape.
func FromDescriptors(descriptors []models.ModelDescriptor, now time.Time) ModelList {
	created := now.Unix() - modelCreatedOffset
	data := make([]openai.Model, 0, len(descriptors))
	for _, d := range descriptors {
		data = append(data, openai.Model{
			ID:         d.ID,
			Object:     "model",
			CreatedAt:  created,
			OwnedBy:    modelOwner,
			Permission: []openai.Permission{},
			Root:       d.ID,
		})
	}
	return ModelList{Object: "list", Data: data}
}

// EmbeddingRequest models the OpenAI /v1/embeddings payload.
type EmbeddingRequest struct {
	Model string
	Input []string
}

// UnmarshalJSON accepts input as a string or an array of strings.
func (r *EmbeddingRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Model string          `json:"model"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode embedding request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Input = nil

	var single string
	if err := json.Unmarshal(raw.Input, &single); err == nil {
		if single != "" {
			r.Input = []string{single}
		}
	} else if err := json.Unmarshal(raw.Input, &r.Input); err != nil {
		return fmt.Errorf("input must be a string or an array of strings: %w", err)
	}

	if len(r.Input) == 0 {
		return errEmptyInput
	}
	return nil
}

// PlaceholderEmbeddings answers an embedding request with random vectors.
// The upstream has no embedding model; only the response shape is faithful.
// Usage counts whitespace-separated words.
func PlaceholderEmbeddings(req EmbeddingRequest) openai.EmbeddingResponse {
	data := make([]openai.Embedding, 0, len(req.Input))
	words := 0
	for i, text := range req.Input {
		words += len(strings.Fields(text))

		vec := make([]float32, embeddingDimensions)
		for j := range vec {
			vec[j] = float32(rand.NormFloat64() * embeddingStdDev)
		}
		data = append(data, openai.Embedding{Object: "embedding", Embedding: vec, Index: i})
	}

	return openai.EmbeddingResponse{
		Object: "list",
		Data:   data,
		Model:  openai.EmbeddingModel(req.Model),
		Usage:  openai.Usage{PromptTokens: words, TotalTokens: words},
	}
}
