package mocks

import (
	"sync"
	"time"

	"dbft-federation/pkg/consensus/events"
)

// ConsensusEventTracer provides centralized event collection for testing.
// This implementation is thread-safe and collects all events for later analysis.
type ConsensusEventTracer struct {
	events []events.ConsensusEvent
	mutex  sync.RWMutex
}

// NewConsensusEventTracer creates a new event tracer for testing
func NewConsensusEventTracer() *ConsensusEventTracer {
	return &ConsensusEventTracer{
		events: make([]events.ConsensusEvent, 0, 1000),
	}
}

// RecordEvent records a consensus event with timestamp
func (t *ConsensusEventTracer) RecordEvent(validatorIndex uint8, eventType events.EventType, payload events.EventPayload) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.events = append(t.events, events.ConsensusEvent{
		ValidatorIndex: validatorIndex,
		EventType:      eventType,
		Payload:        payload,
		Timestamp:      time.Now(),
	})
}

// RecordTransition records a state transition with context
func (t *ConsensusEventTracer) RecordTransition(validatorIndex uint8, from, to events.State, trigger string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.events = append(t.events, events.ConsensusEvent{
		ValidatorIndex: validatorIndex,
		EventType:      events.EventStateTransition,
		FromState:      from,
		ToState:        to,
		Trigger:        trigger,
		Timestamp:      time.Now(),
		Payload: events.EventPayload{
			"from_state": string(from),
			"to_state":   string(to),
			"trigger":    trigger,
		},
	})
}

// RecordMessage records message sending/receiving
func (t *ConsensusEventTracer) RecordMessage(validatorIndex uint8, direction events.MessageDirection, msgType string, payload events.EventPayload) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.events = append(t.events, events.ConsensusEvent{
		ValidatorIndex: validatorIndex,
		EventType:      events.EventType("message_" + string(direction)),
		Direction:      direction,
		MessageType:    msgType,
		Payload:        payload,
		Timestamp:      time.Now(),
	})
}

// GetEvents returns a copy of all recorded events
func (t *ConsensusEventTracer) GetEvents() []events.ConsensusEvent {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	eventsCopy := make([]events.ConsensusEvent, len(t.events))
	copy(eventsCopy, t.events)
	return eventsCopy
}

// GetEventsByType returns all events of a specific type
func (t *ConsensusEventTracer) GetEventsByType(eventType events.EventType) []events.ConsensusEvent {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var filtered []events.ConsensusEvent
	for _, event := range t.events {
		if event.EventType == eventType {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// GetEventsByValidator returns all events for a specific validator
func (t *ConsensusEventTracer) GetEventsByValidator(validatorIndex uint8) []events.ConsensusEvent {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var filtered []events.ConsensusEvent
	for _, event := range t.events {
		if event.ValidatorIndex == validatorIndex {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// GetEventsByValidatorAndType returns events for a specific validator and type
func (t *ConsensusEventTracer) GetEventsByValidatorAndType(validatorIndex uint8, eventType events.EventType) []events.ConsensusEvent {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var filtered []events.ConsensusEvent
	for _, event := range t.events {
		if event.ValidatorIndex == validatorIndex && event.EventType == eventType {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// Reset clears all recorded events (useful for multi-round testing)
func (t *ConsensusEventTracer) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.events = t.events[:0]
}

// GetEventCount returns the total number of recorded events
func (t *ConsensusEventTracer) GetEventCount() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.events)
}
