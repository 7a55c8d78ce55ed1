package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCallStore is an in-memory CallStore for development and tests.
type MemoryCallStore struct {
	mu         sync.RWMutex
	businesses map[string]*Business
	calls      map[string]*Call
	turns      map[string][]*Turn
	profiles   map[string]*CustomerProfile
	rules      map[string][]*EscalationRule
	users      map[string][]*BusinessUser
	deliveries map[string]*ActionDelivery
}

// NewMemoryCallStore creates an empty in-memory store.
func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{
		businesses: make(map[string]*Business),
		calls:      make(map[string]*Call),
		turns:      make(map[string][]*Turn),
		profiles:   make(map[string]*CustomerProfile),
		rules:      make(map[string][]*EscalationRule),
		users:      make(map[string][]*BusinessUser),
		deliveries: make(map[string]*ActionDelivery),
	}
}

// AddBusiness seeds a business (test/bootstrap helper).
func (s *MemoryCallStore) AddBusiness(b *Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	s.businesses[b.ID] = b
}

// AddCustomerProfile seeds a customer profile.
func (s *MemoryCallStore) AddCustomerProfile(p *CustomerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.profiles[p.BusinessID+"|"+p.CallerNumber] = p
}

// AddEscalationRule seeds an escalation rule.
func (s *MemoryCallStore) AddEscalationRule(r *EscalationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.rules[r.BusinessID] = append(s.rules[r.BusinessID], r)
}

// AddBusinessUser seeds a staff contact.
func (s *MemoryCallStore) AddBusinessUser(businessID string, u *BusinessUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[businessID] = append(s.users[businessID], u)
}

func (s *MemoryCallStore) GetBusinessByPhone(_ context.Context, phoneNumber string) (*Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.businesses {
		if b.PhoneNumber == phoneNumber {
			copied := *b
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryCallStore) CreateCall(_ context.Context, businessID, callerNumber string) (*Call, error) {
	call := &Call{
		ID:           uuid.NewString(),
		BusinessID:   businessID,
		CallerNumber: callerNumber,
		StartedAt:    time.Now().UTC(),
		Status:       CallCompleted,
	}
	s.mu.Lock()
	s.calls[call.ID] = call
	s.mu.Unlock()

	copied := *call
	return &copied, nil
}

func (s *MemoryCallStore) AppendTurn(_ context.Context, turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	copied := *turn
	s.turns[turn.CallID] = append(s.turns[turn.CallID], &copied)
	return nil
}

func (s *MemoryCallStore) ListTurns(_ context.Context, callID string) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]*Turn, len(s.turns[callID]))
	for i, t := range s.turns[callID] {
		copied := *t
		turns[i] = &copied
	}
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
	return turns, nil
}

func (s *MemoryCallStore) SetCallStatus(_ context.Context, callID, status, escalatedToUser string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return ErrNotFound
	}
	call.Status = status
	if escalatedToUser != "" {
		call.EscalatedToUser = escalatedToUser
	}
	return nil
}

func (s *MemoryCallStore) FinalizeCall(_ context.Context, callID string, endedAt time.Time, durationSeconds int, summary string, actionPoints []ActionPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return ErrNotFound
	}
	call.EndedAt = &endedAt
	call.DurationSeconds = durationSeconds
	call.Summary = summary
	call.ActionPoints = actionPoints
	return nil
}

func (s *MemoryCallStore) GetCall(_ context.Context, callID string) (*Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *call
	return &copied, nil
}

func (s *MemoryCallStore) GetCustomerProfile(_ context.Context, businessID, callerNumber string) (*CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[businessID+"|"+callerNumber]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *profile
	return &copied, nil
}

func (s *MemoryCallStore) ListEscalationRules(_ context.Context, businessID string) ([]*EscalationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]*EscalationRule, len(s.rules[businessID]))
	for i, r := range s.rules[businessID] {
		copied := *r
		rules[i] = &copied
	}
	return rules, nil
}

func (s *MemoryCallStore) ListBusinessUsers(_ context.Context, businessID string) ([]*BusinessUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*BusinessUser, len(s.users[businessID]))
	for i, u := range s.users[businessID] {
		copied := *u
		users[i] = &copied
	}
	return users, nil
}

func (s *MemoryCallStore) CreateActionDelivery(_ context.Context, callID, actionType, target string) (*ActionDelivery, error) {
	now := time.Now().UTC()
	delivery := &ActionDelivery{
		ID:         uuid.NewString(),
		CallID:     callID,
		ActionType: actionType,
		Target:     target,
		Status:     DeliveryPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.mu.Lock()
	s.deliveries[delivery.ID] = delivery
	s.mu.Unlock()

	copied := *delivery
	return &copied, nil
}

func (s *MemoryCallStore) UpdateActionDelivery(_ context.Context, deliveryID, status string, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.deliveries[deliveryID]
	if !ok {
		return ErrNotFound
	}
	delivery.Status = status
	delivery.Attempts = attempts
	delivery.LastError = lastError
	delivery.UpdatedAt = time.Now().UTC()
	return nil
}

// ListCalls returns every call record (test helper).
func (s *MemoryCallStore) ListCalls() []*Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	calls := make([]*Call, 0, len(s.calls))
	for _, c := range s.calls {
		copied := *c
		calls = append(calls, &copied)
	}
	return calls
}

// ListActionDeliveries returns every delivery record (test helper).
func (s *MemoryCallStore) ListActionDeliveries() []*ActionDelivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deliveries := make([]*ActionDelivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		copied := *d
		deliveries = append(deliveries, &copied)
	}
	return deliveries
}

// GetActionDelivery returns a delivery record (test helper).
func (s *MemoryCallStore) GetActionDelivery(deliveryID string) (*ActionDelivery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	delivery, ok := s.deliveries[deliveryID]
	if !ok {
		return nil, false
	}
	copied := *delivery
	return &copied, true
}
