// Package sessions keeps booking wizard sessions and parked hand-offs in Redis
// so they survive the provider redirect and server restarts.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/advisor-booking/internal/booking"
	"github.com/wolfman30/advisor-booking/internal/handoff"
	"github.com/wolfman30/advisor-booking/internal/planner"
)

const (
	sessionKeyPrefix = "booking_session:"
	lockKeyPrefix    = "booking_session_lock:"
	pendingKeyPrefix = "oauth_pending:"
	lockTTL          = 2 * time.Minute
)

var (
	ErrNotFound = errors.New("sessions: session not found")
	ErrBusy     = errors.New("sessions: session is being modified")
)

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Session is one user's run through the booking wizard.
type Session struct {
	ID        string                `json:"id"`
	Subject   string                `json:"subject,omitempty"`
	Wizard    *booking.Wizard       `json:"wizard"`
	OAuth     *handoff.Flow         `json:"oauth"`
	Advisor   *planner.Advisor      `json:"advisor,omitempty"`
	Plans     []planner.PlanSummary `json:"plans,omitempty"`
	Notices   []handoff.Notice      `json:"notices,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Notify queues notices for the next view.
func (s *Session) Notify(notices ...handoff.Notice) {
	s.Notices = append(s.Notices, notices...)
}

// DrainNotices returns and clears queued notices.
func (s *Session) DrainNotices() []handoff.Notice {
	out := s.Notices
	s.Notices = nil
	return out
}

// Store persists sessions and pending hand-offs.
type Store struct {
	redis      *redis.Client
	tracer     trace.Tracer
	sessionTTL time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

// NewStore creates a Redis-backed store.
func NewStore(client *redis.Client, sessionTTL, pendingTTL time.Duration) *Store {
	if client == nil {
		panic("sessions: redis client cannot be nil")
	}
	if sessionTTL <= 0 {
		sessionTTL = 2 * time.Hour
	}
	if pendingTTL <= 0 {
		pendingTTL = 15 * time.Minute
	}
	return &Store{
		redis:      client,
		tracer:     otel.Tracer("advisor-booking.internal.sessions"),
		sessionTTL: sessionTTL,
		pendingTTL: pendingTTL,
		now:        time.Now,
	}
}

// Create assigns an id to sess and saves it.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess.Wizard == nil || sess.OAuth == nil {
		return fmt.Errorf("sessions: wizard and oauth flow are required")
	}
	sess.ID = uuid.NewString()
	sess.CreatedAt = s.now().UTC()
	return s.Save(ctx, sess)
}

// Save writes the session and refreshes its TTL.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "sessions.save")
	defer span.End()

	sess.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ID), data, s.sessionTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: persist session: %w", err)
	}
	return nil
}

// Load fetches a session by id.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.load")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("sessions: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sessions: decode session: %w", err)
	}
	if sess.Wizard == nil || sess.OAuth == nil {
		return nil, fmt.Errorf("sessions: session %s is incomplete", id)
	}
	return &sess, nil
}

// Delete removes a finished session.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "sessions.delete")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("sessions: delete session: %w", err)
	}
	return nil
}

// Lock serializes mutations of one session. The returned func releases it.
func (s *Store) Lock(ctx context.Context, id string) (func(), error) {
	token := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, lockKey(id), token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("sessions: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return func() {
		// The lock may have expired and been retaken by another request; a
		// failed release is left to lockTTL.
		_ = releaseLock.Run(context.WithoutCancel(ctx), s.redis, []string{lockKey(id)}, token).Err()
	}, nil
}

// SavePending parks a hand-off under the provider's state value.
func (s *Store) SavePending(ctx context.Context, key string, p handoff.Pending) error {
	ctx, span := s.tracer.Start(ctx, "sessions.save_pending")
	defer span.End()

	data, err := json.Marshal(p)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: marshal pending: %w", err)
	}
	if err := s.redis.Set(ctx, pendingKey(key), data, s.pendingTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: persist pending: %w", err)
	}
	return nil
}

// TakePending returns and deletes a parked hand-off; (nil, nil) when absent or expired.
func (s *Store) TakePending(ctx context.Context, key string) (*handoff.Pending, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.take_pending")
	defer span.End()

	data, err := s.redis.GetDel(ctx, pendingKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("sessions: load pending: %w", err)
	}
	var p handoff.Pending
	if err := json.Unmarshal(data, &p); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sessions: decode pending: %w", err)
	}
	return &p, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func lockKey(id string) string {
	return lockKeyPrefix + id
}

func pendingKey(state string) string {
	return pendingKeyPrefix + state
}
