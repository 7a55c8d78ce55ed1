// Package store persists calls, transcript turns, and the per-business
// records the call loop reads: customer profiles, escalation rules, and
// staff contacts. Writes are append-only from the orchestrator's view.
package store

import (
	"context"
	"errors"
	"time"
)

// Call status values.
const (
	CallCompleted   = "completed"
	CallEscalated   = "escalated"
	CallMissed      = "missed"
	CallTransferred = "transferred"
)

// Turn speaker values.
const (
	SpeakerCustomer = "customer"
	SpeakerAI       = "ai"
	SpeakerHuman    = "human"
)

// Action delivery status values.
const (
	DeliveryPending = "pending"
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Business is the called party an inbound call resolves to.
type Business struct {
	ID          string
	Name        string
	PhoneNumber string
}

// BusinessUser is a staff member reachable for escalations.
type BusinessUser struct {
	ID        string
	Email     string
	Phone     string
	PushToken string
	Role      string
}

// Call is one inbound call's lifecycle record.
type Call struct {
	ID              string
	BusinessID      string
	CallerNumber    string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds int
	Status          string
	Summary         string
	ActionPoints    []ActionPoint
	EscalatedToUser string
}

// Turn is one utterance in a call's transcript. Immutable once recorded.
type Turn struct {
	ID        string
	CallID    string
	Speaker   string
	Content   string
	Sentiment *float64
	Timestamp time.Time
}

// ActionPoint is a follow-up task derived from a call summary.
type ActionPoint struct {
	Type    string            `json:"type"`
	Details map[string]string `json:"details"`
}

// ActionDelivery tracks one action point's dispatch to its target.
type ActionDelivery struct {
	ID         string
	CallID     string
	ActionType string
	Target     string
	Status     string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CustomerProfile holds what a business knows about a repeat caller.
type CustomerProfile struct {
	ID           string
	BusinessID   string
	CallerNumber string
	Name         string
	Preferences  map[string]string
}

// EscalationRule is a business-configured trigger evaluated on every turn.
type EscalationRule struct {
	ID         string
	BusinessID string
	Keywords   []string
	Priority   int
	Action     string
}

// CallStore is the persistence boundary the orchestrator writes through.
type CallStore interface {
	// GetBusinessByPhone resolves the called number to a business.
	// Returns ErrNotFound if no business owns the number.
	GetBusinessByPhone(ctx context.Context, phoneNumber string) (*Business, error)

	// CreateCall records a new call and returns it with an assigned ID.
	CreateCall(ctx context.Context, businessID, callerNumber string) (*Call, error)

	// AppendTurn adds one transcript turn to a call.
	AppendTurn(ctx context.Context, turn *Turn) error

	// ListTurns returns a call's turns in chronological order.
	ListTurns(ctx context.Context, callID string) ([]*Turn, error)

	// SetCallStatus updates a call's status and, for escalations, the
	// assigned handler.
	SetCallStatus(ctx context.Context, callID, status, escalatedToUser string) error

	// FinalizeCall stamps end time, duration, summary, and action points.
	// Status is managed separately through SetCallStatus.
	FinalizeCall(ctx context.Context, callID string, endedAt time.Time, durationSeconds int, summary string, actionPoints []ActionPoint) error

	// GetCall returns a call by ID. Returns ErrNotFound if absent.
	GetCall(ctx context.Context, callID string) (*Call, error)

	// GetCustomerProfile looks up a caller's profile for a business.
	// Returns ErrNotFound if the caller is unknown.
	GetCustomerProfile(ctx context.Context, businessID, callerNumber string) (*CustomerProfile, error)

	// ListEscalationRules returns a business's configured rules.
	ListEscalationRules(ctx context.Context, businessID string) ([]*EscalationRule, error)

	// ListBusinessUsers returns a business's staff contacts.
	ListBusinessUsers(ctx context.Context, businessID string) ([]*BusinessUser, error)

	// CreateActionDelivery records a pending action point dispatch.
	CreateActionDelivery(ctx context.Context, callID, actionType, target string) (*ActionDelivery, error)

	// UpdateActionDelivery records a dispatch outcome.
	UpdateActionDelivery(ctx context.Context, deliveryID, status string, attempts int, lastError string) error
}
