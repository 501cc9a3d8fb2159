// Package events carries task state changes from the scheduler to its
// observers.
//
// The scheduler emits a TaskEvent after every state change. Observers such
// as the WebSocket hub and the NATS publisher implement EventHandler and are
// registered with an InMemoryEventEmitter, so the scheduler never depends on
// them directly.
package events
