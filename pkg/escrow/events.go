package escrow

import (
	"time"
)

// EventName identifies a domain event. The names are a stable contract for
// watchers and must not change.
type EventName string

const (
	EventPending               EventName = "Pending"
	EventFund                  EventName = "Fund"
	EventIntermediateStorage   EventName = "IntermediateStorage"
	EventBulkTransfer          EventName = "BulkTransfer"
	EventCompleted             EventName = "Completed"
	EventCancelled             EventName = "Cancelled"
	EventCancellationRequested EventName = "CancellationRequested"
	EventCancellationRefund    EventName = "CancellationRefund"
	EventWithdraw              EventName = "Withdraw"
)

// Event is one entry of the append-only domain event stream.
type Event struct {
	Seq      uint64                 `json:"seq"`
	EscrowID string                 `json:"escrowId"`
	Name     EventName              `json:"name"`
	At       time.Time              `json:"at"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Sink receives committed events. Emit is called after the mutation that
// produced the event has been durably applied, in sequence order per escrow.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(event Event) { f(event) }

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(event Event) {
	for _, s := range m {
		s.Emit(event)
	}
}
