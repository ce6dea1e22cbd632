// Package tasks runs background work: fire-and-forget jobs identified by a kind and a
// JSON payload, processed by registered handlers at least once.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the number of times a failing job is tried
const DefaultMaxAttempts = 3

// Runner accepts jobs for asynchronous execution
type Runner interface {
	Enqueue(ctx context.Context, kind string, payload []byte) error
}

// Handler processes a job's payload
type Handler func(ctx context.Context, payload []byte) error

// Job represents a background job with its metadata
type Job struct {
	// ID is the unique identifier for the job
	ID uuid.UUID `json:"id"`
	// Kind selects the handler (e.g. "odm.update-dependencies")
	Kind string `json:"kind"`
	// Payload is the JSON-encoded job data
	Payload json.RawMessage `json:"payload"`
	// Attempts is the number of times this job has been attempted
	Attempts int `json:"attempts"`
	// MaxAttempts is the maximum number of attempts
	MaxAttempts int `json:"max_attempts"`
	// Error stores the last error message
	Error string `json:"error,omitempty"`
	// CreatedAt is when the job was first created
	CreatedAt time.Time `json:"created_at"`
}

// NewJob creates a new job with default values
func NewJob(kind string, payload []byte) *Job {
	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     json.RawMessage(payload),
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsRetryable returns true if the job can be tried again
func (j *Job) IsRetryable() bool {
	return j.Attempts < j.MaxAttempts
}

// Handlers maps job kinds to handlers
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlers creates an empty handler registry
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[string]Handler)}
}

// Register adds the handler for a job kind, replacing any previous one
func (h *Handlers) Register(kind string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[kind] = handler
}

// Get retrieves the handler for a job kind
func (h *Handlers) Get(kind string) (Handler, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handler, ok := h.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job kind: %s", kind)
	}
	return handler, nil
}

// Kinds returns the registered job kinds sorted
func (h *Handlers) Kinds() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	kinds := make([]string, 0, len(h.handlers))
	for k := range h.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
