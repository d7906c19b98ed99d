package emit

import (
	"context"
	"sync"
)

// BufferedEmitter implements Emitter by storing events in memory (buffered history queries).
//
// This emitter captures all events and provides query capabilities for
// execution history analysis. Events are organized by runID for efficient
// retrieval and filtering.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by runID with optional filtering
//   - Filter by phase, message, seq range
//   - Clear events by runID or all events
//
// Use cases:
//   - Development and debugging
//   - Testing and validation
//   - Real-time monitoring dashboards
//   - Post-execution analysis
//
// Warning: This emitter stores all events in memory. For production
// deployments with long-running runs or high event volume, consider using
// a persistent storage backend or implement event rotation/cleanup.
//
// Example usage:
//
//	// Create buffered emitter for testing
//	emitter := emit.NewBufferedEmitter()
//	driver := machine.NewDriver(opener, "run-001", stf, restore, executor, machine.WithEmitter(emitter))
//
//	// Run the machine
//	driver.Run(ctx)
//
//	// Query execution history
//	allEvents := emitter.GetHistory("run-001")
//	errorEvents := emitter.GetHistoryWithFilter("run-001", emit.HistoryFilter{Msg: "transition_failed"})
//
//	// Clean up old runs
//	emitter.Clear("run-001")
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering execution history (history filtering).
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic (all conditions must match).
//
// Fields:
//   - Phase: Filter by phase (e.g., "stf", "restore", "driver")
//   - Msg: Filter by exact message (e.g., "transition_applied", "transition_failed")
//   - MinSeq: Filter events with Seq >= MinSeq (nil = no lower bound)
//   - MaxSeq: Filter events with Seq <= MaxSeq (nil = no upper bound)
//
// Example usage:
//
//	// Get all failed transitions
//	filter := emit.HistoryFilter{
//		Phase: "stf",
//		Msg:    "transition_failed",
//	}
//	errors := emitter.GetHistoryWithFilter("run-001", filter)
//
//	// Get events from seqs 5-10
//	minSeq, maxSeq := 5, 10
//	filter := emit.HistoryFilter{
//		MinSeq: &minSeq,
//		MaxSeq: &maxSeq,
//	}
//	seqEvents := emitter.GetHistoryWithFilter("run-001", filter)
type HistoryFilter struct {
	Phase  string // Filter by phase (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	MinSeq *int   // Minimum Seq (nil = no filter)
	MaxSeq *int   // Maximum Seq (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter (buffering).
//
// Returns a BufferedEmitter that stores all events in memory and provides
// query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer (buffering).
//
// Events are organized by runID for efficient retrieval. This method is
// thread-safe and can be called concurrently from multiple goroutines.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// EmitBatch stores each event in order.
func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		b.Emit(event)
	}
	return nil
}

// Flush is a no-op: BufferedEmitter holds events in memory only.
func (b *BufferedEmitter) Flush(_ context.Context) error {
	return nil
}

// GetHistory retrieves all events for a specific runID (history retrieval/clear).
//
// Returns events in the order they were emitted. Returns an empty slice
// if no events exist for the given runID.
//
// This method is thread-safe and returns a copy of the events to prevent
// concurrent modification issues.
//
// Example:
//
//	events := emitter.GetHistory("run-001")
//	for _, event := range events {
//		fmt.Printf("[%s] %s: %s\n", event.RunID, event.Phase, event.Msg)
//	}
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{} // Return empty slice instead of nil
	}

	// Return a copy to prevent external modification
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves filtered events for a specific runID (history filtering).
//
// Applies the provided filter criteria to select matching events. All filter
// conditions must match for an event to be included (AND logic).
//
// Returns events in the order they were emitted. Returns an empty slice if
// no events match the filter.
//
// This method is thread-safe and returns a copy of the events.
//
// Example:
//
//	// Get failed transitions
//	filter := emit.HistoryFilter{
//		Phase: "stf",
//		Msg:    "transition_failed",
//	}
//	errors := emitter.GetHistoryWithFilter("run-001", filter)
//
//	// Get events from seqs 10-20
//	minSeq, maxSeq := 10, 20
//	filter := emit.HistoryFilter{
//		MinSeq: &minSeq,
//		MaxSeq: &maxSeq,
//	}
//	seqEvents := emitter.GetHistoryWithFilter("run-001", filter)
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{}
	}

	// If filter is empty, return all events
	if filter.Phase == "" && filter.Msg == "" && filter.MinSeq == nil && filter.MaxSeq == nil {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	// Apply filters
	var result []Event
	for _, event := range events {
		if !b.matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{} // Return empty slice instead of nil
	}
	return result
}

// matchesFilter checks if an event matches the filter criteria.
func (b *BufferedEmitter) matchesFilter(event Event, filter HistoryFilter) bool {
	// Filter by Phase
	if filter.Phase != "" && event.Phase != filter.Phase {
		return false
	}

	// Filter by Msg
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}

	// Filter by MinSeq
	if filter.MinSeq != nil && event.Seq < *filter.MinSeq {
		return false
	}

	// Filter by MaxSeq
	if filter.MaxSeq != nil && event.Seq > *filter.MaxSeq {
		return false
	}

	return true
}

// Clear removes stored events (history retrieval/clear).
//
// If runID is non-empty, clears only events for that specific run.
// If runID is empty, clears all stored events across all runs.
//
// This method is thread-safe and can be called concurrently.
//
// Example:
//
//	// Clear specific run
//	emitter.Clear("run-001")
//
//	// Clear all runs
//	emitter.Clear("")
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		// Clear all events
		b.events = make(map[string][]Event)
	} else {
		// Clear specific runID
		delete(b.events, runID)
	}
}
