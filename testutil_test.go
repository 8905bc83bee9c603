package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestHelper provides utilities for tests
type TestHelper struct {
	t       *testing.T
	tempDir string
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTempDir creates a temporary directory for testing
func (h *TestHelper) CreateTempDir() string {
	tempDir, err := os.MkdirTemp("", "llm-council-test-*")
	if err != nil {
		h.t.Fatalf("Failed to create temp dir: %v", err)
	}
	h.tempDir = tempDir
	return tempDir
}

// Cleanup removes the temporary directory
func (h *TestHelper) Cleanup() {
	if h.tempDir != "" {
		os.RemoveAll(h.tempDir)
	}
}

// WriteJSONFile writes JSON data to a file in the temp directory
func (h *TestHelper) WriteJSONFile(filename string, data interface{}) string {
	if h.tempDir == "" {
		h.CreateTempDir()
	}

	path := filepath.Join(h.tempDir, filename)
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		h.t.Fatalf("Failed to marshal JSON: %v", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		h.t.Fatalf("Failed to write file: %v", err)
	}

	return path
}

// ReadJSONFile reads and unmarshals JSON from a file
func (h *TestHelper) ReadJSONFile(path string, v interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		h.t.Fatalf("Failed to read file: %v", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		h.t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
}

// AssertEqual checks if two values are equal
func (h *TestHelper) AssertEqual(got, want interface{}, message string) {
	if got != want {
		h.t.Errorf("%s: got %v, want %v", message, got, want)
	}
}

// AssertNotNil checks if a value is not nil
func (h *TestHelper) AssertNotNil(v interface{}, message string) {
	if v == nil {
		h.t.Errorf("%s: value is nil", message)
	}
}

// AssertNoError fails the test if err is non-nil
func (h *TestHelper) AssertNoError(err error, message string) {
	if err != nil {
		h.t.Errorf("%s: %v", message, err)
	}
}

// UseTempDataDir points DataDir at a fresh temp directory for the duration
// of the test.
func (h *TestHelper) UseTempDataDir() string {
	tempDir := h.CreateTempDir()
	oldDataDir := DataDir
	DataDir = tempDir
	h.t.Cleanup(func() { DataDir = oldDataDir })
	return tempDir
}

// openRouterChoice builds the choices entry of a mock API response.
func openRouterChoice(content string) OpenRouterAPIResponse {
	var apiResponse OpenRouterAPIResponse
	apiResponse.Choices = make([]struct {
		Message struct {
			Content          string      `json:"content"`
			ReasoningDetails interface{} `json:"reasoning_details,omitempty"`
		} `json:"message"`
	}, 1)
	apiResponse.Choices[0].Message.Content = content
	return apiResponse
}

// MockOpenRouterServer creates a mock HTTP server for the OpenRouter API
// and points OpenRouterAPIURL at it for the duration of the test.
func MockOpenRouterServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	server := httptest.NewServer(handler)

	oldAPIURL := OpenRouterAPIURL
	oldAPIKey := OpenRouterAPIKey
	OpenRouterAPIURL = server.URL
	OpenRouterAPIKey = "test-key"
	t.Cleanup(func() {
		OpenRouterAPIURL = oldAPIURL
		OpenRouterAPIKey = oldAPIKey
		server.Close()
	})

	return server
}

// CreateMockOpenRouterHandler creates a handler that returns the same
// successful response for every model.
func CreateMockOpenRouterHandler(t *testing.T, response string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") == "" {
			t.Errorf("Missing Authorization header")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(openRouterChoice(response))
	}
}

// CreateMockCouncilHandler creates a handler that dispatches on the model
// field of the incoming request: models present in responses succeed with
// their canned content, all others get a 500. Judge requests (recognized
// by the ranking instructions in the prompt) are answered from rankings
// when provided.
func CreateMockCouncilHandler(t *testing.T, responses map[string]string, rankings map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var request OpenRouterRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("Failed to decode mock request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// The chairman prompt quotes the judges' ranking texts, so check for
		// its own header before the ranking instructions.
		isRankingRequest := false
		if len(request.Messages) > 0 {
			prompt := request.Messages[0].Content
			isRankingRequest = !strings.Contains(prompt, "You are the Chairman") &&
				strings.Contains(prompt, "FINAL RANKING")
		}

		var content string
		var ok bool
		if isRankingRequest && rankings != nil {
			content, ok = rankings[request.Model]
		} else {
			content, ok = responses[request.Model]
		}
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("model unavailable"))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(openRouterChoice(content))
	}
}

// CreateMockOpenRouterErrorHandler creates a handler that returns errors
func CreateMockOpenRouterErrorHandler(statusCode int, errorMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		w.Write([]byte(errorMsg))
	}
}

// WithCouncilModels swaps the council roster (and chairman/title model)
// for the duration of the test.
func WithCouncilModels(t *testing.T, models []string, chairman string) {
	oldModels := CouncilModels
	oldChairman := ChairmanModel
	oldTitle := TitleModel
	CouncilModels = models
	ChairmanModel = chairman
	TitleModel = chairman
	t.Cleanup(func() {
		CouncilModels = oldModels
		ChairmanModel = oldChairman
		TitleModel = oldTitle
	})
}

// SampleConversation creates a sample conversation for testing
func SampleConversation(id string) *Conversation {
	return &Conversation{
		ID:        id,
		CreatedAt: testTime(),
		Title:     "Test Conversation",
		Messages: []Message{
			{
				Role:    "user",
				Content: "What is Go?",
			},
			{
				Role: "assistant",
				Stage1: []Stage1Response{
					{Model: "test/model1", Response: "Go is a programming language."},
					{Model: "test/model2", Response: "Go is developed by Google."},
				},
				Stage2: []Stage2Ranking{
					{
						Model:         "test/model1",
						Ranking:       "FINAL RANKING:\n1. Response B\n2. Response A",
						ParsedRanking: []string{"Response B", "Response A"},
					},
				},
				Stage3: &Stage3Response{
					Model:    "test/chairman",
					Response: "Go is a programming language developed by Google.",
				},
				Metadata: &Metadata{
					LabelToModel: map[string]string{
						"Response A": "test/model1",
						"Response B": "test/model2",
					},
					AggregateRankings: []AggregateRanking{
						{Model: "test/model2", AverageRank: 1, RankingsCount: 1},
						{Model: "test/model1", AverageRank: 2, RankingsCount: 1},
					},
				},
			},
		},
	}
}

// testTime returns a fixed time for testing
func testTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}
