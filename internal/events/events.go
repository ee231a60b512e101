// Package events provides an event system for experiment and safety notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventExperimentStarted is emitted when an experiment transitions to running
	EventExperimentStarted EventType = "experiment_started"
	// EventExperimentCompleted is emitted when an experiment completes successfully
	EventExperimentCompleted EventType = "experiment_completed"
	// EventExperimentFailed is emitted when an experiment ends failed or aborted
	EventExperimentFailed EventType = "experiment_failed"
	// EventFaultInjected is emitted when a fault injection becomes active
	EventFaultInjected EventType = "fault_injected"
	// EventFaultCleaned is emitted after a fault's cleanup has run
	EventFaultCleaned EventType = "fault_cleaned"
	// EventSafetyTriggered is emitted when the safety controller blocks an experiment
	EventSafetyTriggered EventType = "safety_triggered"
	// EventEmergencyStop is emitted when an emergency stop is triggered
	EventEmergencyStop EventType = "emergency_stop"
	// EventRollbackPerformed is emitted after a rollback plan has executed
	EventRollbackPerformed EventType = "rollback_performed"
)

// Event represents an experiment, fault or safety event
type Event struct {
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ExperimentID string    `json:"experiment_id,omitempty"`
	Data         EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Experiment string   `json:"experiment,omitempty"`
	Status     string   `json:"status,omitempty"`
	FaultName  string   `json:"fault_name,omitempty"`
	FaultType  string   `json:"fault_type,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// NewExperimentStartedEvent creates an experiment started event
func NewExperimentStartedEvent(experimentID, name string) Event {
	return Event{
		Type:         EventExperimentStarted,
		Timestamp:    time.Now(),
		ExperimentID: experimentID,
		Data:         EventData{Experiment: name},
	}
}

// NewExperimentFinishedEvent creates a completed or failed event from the terminal status
func NewExperimentFinishedEvent(experimentID, name, status string, failed bool) Event {
	typ := EventExperimentCompleted
	if failed {
		typ = EventExperimentFailed
	}
	return Event{
		Type:         typ,
		Timestamp:    time.Now(),
		ExperimentID: experimentID,
		Data:         EventData{Experiment: name, Status: status},
	}
}

// NewFaultInjectedEvent creates a fault injected event
func NewFaultInjectedEvent(experimentID, faultName, faultType string) Event {
	return Event{
		Type:         EventFaultInjected,
		Timestamp:    time.Now(),
		ExperimentID: experimentID,
		Data:         EventData{FaultName: faultName, FaultType: faultType},
	}
}

// NewFaultCleanedEvent creates a fault cleaned event
func NewFaultCleanedEvent(experimentID, faultName, faultType string) Event {
	return Event{
		Type:         EventFaultCleaned,
		Timestamp:    time.Now(),
		ExperimentID: experimentID,
		Data:         EventData{FaultName: faultName, FaultType: faultType},
	}
}

// NewSafetyTriggeredEvent creates a safety triggered event
func NewSafetyTriggeredEvent(experimentID string, reasons []string) Event {
	return Event{
		Type:         EventSafetyTriggered,
		Timestamp:    time.Now(),
		ExperimentID: experimentID,
		Data:         EventData{Reasons: reasons},
	}
}

// NewEmergencyStopEvent creates an emergency stop event
func NewEmergencyStopEvent(reason string) Event {
	return Event{
		Type:      EventEmergencyStop,
		Timestamp: time.Now(),
		Data:      EventData{Reasons: []string{reason}},
	}
}

// NewRollbackPerformedEvent creates a rollback performed event
func NewRollbackPerformedEvent(experimentID string) Event {
	return Event{
		Type:         EventRollbackPerformed,
		Timestamp:    time.Now(),
		ExperimentID: experimentID,
	}
}
