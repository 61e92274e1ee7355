package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

const ResultsJSONFilename = "results.json"

// ResultsJSONSink writes every ExecutionResult of a run to results.json
type ResultsJSONSink struct {
	logger *FileLogger

	mu      sync.Mutex
	results map[string][]*types.ExecutionResult
}

// ResultsDocument is the shape of results.json
type ResultsDocument struct {
	RunID       string                   `json:"runId"`
	GeneratedAt time.Time                `json:"generatedAt"`
	Status      types.TestStatus         `json:"status"`
	Total       int                      `json:"total"`
	Passed      int                      `json:"passed"`
	Failed      int                      `json:"failed"`
	Flaky       int                      `json:"flaky"`
	Interrupted int                      `json:"interrupted,omitempty"`
	Results     []*types.ExecutionResult `json:"results"`
}

// NewResultsJSONSink creates a sink bound to the logger's run directories
func NewResultsJSONSink(logger *FileLogger) *ResultsJSONSink {
	return &ResultsJSONSink{
		logger:  logger,
		results: make(map[string][]*types.ExecutionResult),
	}
}

// Consume buffers the result until Complete
func (s *ResultsJSONSink) Consume(result *types.ExecutionResult, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[runID] = append(s.results[runID], result)
	return nil
}

// Complete writes results.json for runID
func (s *ResultsJSONSink) Complete(runID string) error {
	dir, err := s.logger.GetDirectoryForRunID(runID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	results := s.results[runID]
	s.mu.Unlock()

	doc := ResultsDocument{
		RunID:       runID,
		GeneratedAt: time.Now(),
		Status:      types.TestStatusPass,
		Total:       len(results),
		Results:     results,
	}
	if doc.Results == nil {
		doc.Results = []*types.ExecutionResult{}
	}
	for _, res := range results {
		switch {
		case res.Status == types.TestStatusPass:
			doc.Passed++
		case res.Status.Failed():
			doc.Failed++
		}
		if res.Flaky {
			doc.Flaky++
		}
		if res.Interrupted {
			doc.Interrupted++
		}
	}
	switch {
	case doc.Interrupted > 0:
		doc.Status = types.TestStatusError
	case doc.Failed > 0:
		doc.Status = types.TestStatusFail
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, ResultsJSONFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadResultsFile loads a results.json written by ResultsJSONSink
func ReadResultsFile(path string) (*ResultsDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc ResultsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &doc, nil
}
