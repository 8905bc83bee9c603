package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// ModelResult is the settled outcome of one model call within a stage
// fan-out: either Response or Err is set, never both.
type ModelResult struct {
	Model    string
	Response *OpenRouterResponse
	Err      error
}

// QueryModel queries a single model via OpenRouter API with the given timeout.
// Returns the model's response or an error if the request fails.
func QueryModel(ctx context.Context, model string, messages []OpenRouterMessage, timeout time.Duration) (*OpenRouterResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Build request payload
	payload := OpenRouterRequest{
		Model:    model,
		Messages: messages,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", OpenRouterAPIURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+OpenRouterAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResponse OpenRouterAPIResponse
	if err := json.Unmarshal(bodyBytes, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(apiResponse.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	message := apiResponse.Choices[0].Message
	return &OpenRouterResponse{
		Content:          message.Content,
		ReasoningDetails: message.ReasoningDetails,
	}, nil
}

// QueryModelsParallel queries multiple models in parallel, one goroutine
// per model. Each goroutine writes to its own indexed slot, so the
// returned slice is in submission order regardless of completion order
// and no result is shared between tasks. Every slot settles: a failed or
// timed-out call records its error in place rather than failing the join.
func QueryModelsParallel(ctx context.Context, models []string, messages []OpenRouterMessage, timeout time.Duration) []ModelResult {
	results := make([]ModelResult, len(models))

	// errgroup for the join; individual errors never propagate, so Wait
	// always returns once every call has succeeded, failed, or timed out.
	g := new(errgroup.Group)

	for i, model := range models {
		i, model := i, model
		g.Go(func() error {
			response, err := QueryModel(ctx, model, messages, timeout)
			if err != nil {
				log.Printf("Error querying model %s: %v", model, err)
				results[i] = ModelResult{Model: model, Err: err}
				return nil
			}
			results[i] = ModelResult{Model: model, Response: response}
			return nil
		})
	}

	g.Wait()
	return results
}
