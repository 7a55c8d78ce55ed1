package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgCallStore is a Postgres-backed CallStore using the schema shared with
// the management API (businesses, calls, call_messages, customer_profiles,
// escalation_rules, users, action_deliveries).
type PgCallStore struct {
	pool *pgxpool.Pool
}

var _ CallStore = (*PgCallStore)(nil)

// NewPgCallStore creates a Postgres-backed call store.
func NewPgCallStore(pool *pgxpool.Pool) *PgCallStore {
	return &PgCallStore{pool: pool}
}

func (s *PgCallStore) GetBusinessByPhone(ctx context.Context, phoneNumber string) (*Business, error) {
	var b Business
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, phone_number FROM businesses WHERE phone_number = $1`,
		phoneNumber).Scan(&b.ID, &b.Name, &b.PhoneNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("business lookup failed: %w", err)
	}
	return &b, nil
}

func (s *PgCallStore) CreateCall(ctx context.Context, businessID, callerNumber string) (*Call, error) {
	call := &Call{
		ID:           uuid.NewString(),
		BusinessID:   businessID,
		CallerNumber: callerNumber,
		StartedAt:    time.Now().UTC(),
		Status:       CallCompleted,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, business_id, caller_number, started_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		call.ID, call.BusinessID, call.CallerNumber, call.StartedAt, call.Status)
	if err != nil {
		return nil, fmt.Errorf("call insert failed: %w", err)
	}
	return call, nil
}

func (s *PgCallStore) AppendTurn(ctx context.Context, turn *Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_messages (id, call_id, sender, content, timestamp, sentiment_score)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID, turn.CallID, turn.Speaker, turn.Content, turn.Timestamp, turn.Sentiment)
	if err != nil {
		return fmt.Errorf("turn insert failed: %w", err)
	}
	return nil
}

func (s *PgCallStore) ListTurns(ctx context.Context, callID string) ([]*Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, sender, content, timestamp, sentiment_score
		 FROM call_messages WHERE call_id = $1 ORDER BY timestamp`,
		callID)
	if err != nil {
		return nil, fmt.Errorf("turn query failed: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.CallID, &t.Speaker, &t.Content, &t.Timestamp, &t.Sentiment); err != nil {
			return nil, fmt.Errorf("turn scan failed: %w", err)
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

func (s *PgCallStore) SetCallStatus(ctx context.Context, callID, status, escalatedToUser string) error {
	var err error
	if escalatedToUser != "" {
		_, err = s.pool.Exec(ctx,
			`UPDATE calls SET status = $2, escalated_to_user_id = $3 WHERE id = $1`,
			callID, status, escalatedToUser)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE calls SET status = $2 WHERE id = $1`,
			callID, status)
	}
	if err != nil {
		return fmt.Errorf("call status update failed: %w", err)
	}
	return nil
}

func (s *PgCallStore) FinalizeCall(ctx context.Context, callID string, endedAt time.Time, durationSeconds int, summary string, actionPoints []ActionPoint) error {
	points, err := json.Marshal(actionPoints)
	if err != nil {
		return fmt.Errorf("action points marshal failed: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE calls
		 SET ended_at = $2, duration_seconds = $3, summary = $4, action_points = $5
		 WHERE id = $1`,
		callID, endedAt, durationSeconds, summary, points)
	if err != nil {
		return fmt.Errorf("call finalize failed: %w", err)
	}
	return nil
}

func (s *PgCallStore) GetCall(ctx context.Context, callID string) (*Call, error) {
	var (
		call   Call
		points []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, business_id, caller_number, started_at, ended_at, duration_seconds,
		        status, COALESCE(summary, ''), action_points, COALESCE(escalated_to_user_id::text, '')
		 FROM calls WHERE id = $1`,
		callID).Scan(&call.ID, &call.BusinessID, &call.CallerNumber, &call.StartedAt,
		&call.EndedAt, &call.DurationSeconds, &call.Status, &call.Summary, &points, &call.EscalatedToUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("call lookup failed: %w", err)
	}
	if len(points) > 0 {
		if err := json.Unmarshal(points, &call.ActionPoints); err != nil {
			return nil, fmt.Errorf("action points unmarshal failed: %w", err)
		}
	}
	return &call, nil
}

func (s *PgCallStore) GetCustomerProfile(ctx context.Context, businessID, callerNumber string) (*CustomerProfile, error) {
	var (
		profile CustomerProfile
		prefs   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, business_id, caller_number, COALESCE(name, ''), preferences
		 FROM customer_profiles WHERE business_id = $1 AND caller_number = $2`,
		businessID, callerNumber).Scan(&profile.ID, &profile.BusinessID,
		&profile.CallerNumber, &profile.Name, &prefs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("profile lookup failed: %w", err)
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &profile.Preferences); err != nil {
			return nil, fmt.Errorf("preferences unmarshal failed: %w", err)
		}
	}
	return &profile, nil
}

func (s *PgCallStore) ListEscalationRules(ctx context.Context, businessID string) ([]*EscalationRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, business_id, keyword_or_phrase, priority, action
		 FROM escalation_rules WHERE business_id = $1`,
		businessID)
	if err != nil {
		return nil, fmt.Errorf("rule query failed: %w", err)
	}
	defer rows.Close()

	var rules []*EscalationRule
	for rows.Next() {
		var r EscalationRule
		if err := rows.Scan(&r.ID, &r.BusinessID, &r.Keywords, &r.Priority, &r.Action); err != nil {
			return nil, fmt.Errorf("rule scan failed: %w", err)
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

func (s *PgCallStore) ListBusinessUsers(ctx context.Context, businessID string) ([]*BusinessUser, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, COALESCE(phone, ''), COALESCE(push_token, ''), role
		 FROM users WHERE business_id = $1`,
		businessID)
	if err != nil {
		return nil, fmt.Errorf("user query failed: %w", err)
	}
	defer rows.Close()

	var users []*BusinessUser
	for rows.Next() {
		var u BusinessUser
		if err := rows.Scan(&u.ID, &u.Email, &u.Phone, &u.PushToken, &u.Role); err != nil {
			return nil, fmt.Errorf("user scan failed: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *PgCallStore) CreateActionDelivery(ctx context.Context, callID, actionType, target string) (*ActionDelivery, error) {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO action_deliveries (id, call_id, action_type, target, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
		delivery.ID, delivery.CallID, delivery.ActionType, delivery.Target, delivery.Status, now)
	if err != nil {
		return nil, fmt.Errorf("delivery insert failed: %w", err)
	}
	return delivery, nil
}

func (s *PgCallStore) UpdateActionDelivery(ctx context.Context, deliveryID, status string, attempts int, lastError string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE action_deliveries
		 SET status = $2, attempts = $3, last_error = $4, updated_at = $5
		 WHERE id = $1`,
		deliveryID, status, attempts, lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delivery update failed: %w", err)
	}
	return nil
}
