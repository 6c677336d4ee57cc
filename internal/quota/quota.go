// Package quota tracks daily usage of the shared Replicate key and decides
// whether a shared-key request may proceed.
package quota

import (
	"context"
	"fmt"
	"icarus/internal/models"
	"sync"
	"time"
)

const (
	DefaultGlobalLimit = 24
	DefaultUserLimit   = 3

	DateLayout = "2006-01-02"
)

// Store persists the global and per-session counter records. The loaders
// return nil when nothing has been stored yet. SaveUser may discard records
// of other sessions dated differently from rec, since those read as fresh.
type Store interface {
	Ping(ctx context.Context) error
	LoadGlobal(ctx context.Context) (*models.CounterRecord, error)
	SaveGlobal(ctx context.Context, rec models.CounterRecord) error
	LoadUser(ctx context.Context, sessionID string) (*models.CounterRecord, error)
	SaveUser(ctx context.Context, sessionID string, rec models.CounterRecord) error
}

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonDailyLimit   Reason = "daily_limit"
	ReasonSessionLimit Reason = "session_limit"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func (d Decision) Message() string {
	switch d.Reason {
	case ReasonDailyLimit:
		return "Daily limit for generated images reached. Please try again tomorrow."
	case ReasonSessionLimit:
		return "You have reached the limit of generated images for this session."
	}
	return ""
}

// CheckLimits blocks when either count has reached its limit. The daily
// limit is reported first when both are reached.
func CheckLimits(globalCount, userCount, globalLimit, userLimit int) Decision {
	if globalCount >= globalLimit {
		return Decision{Reason: ReasonDailyLimit}
	}
	if userCount >= userLimit {
		return Decision{Reason: ReasonSessionLimit}
	}
	return Decision{Allowed: true}
}

func ResetIfStale(rec models.CounterRecord, today string) models.CounterRecord {
	if rec.Date != today {
		return models.CounterRecord{Date: today, Count: 0}
	}
	return rec
}

func Increment(rec models.CounterRecord) models.CounterRecord {
	rec.Count++
	return rec
}

// Usage is a snapshot of both counters for one session.
type Usage struct {
	Date        string `json:"date"`
	GlobalCount int    `json:"global_count"`
	GlobalLimit int    `json:"global_limit"`
	UserCount   int    `json:"user_count"`
	UserLimit   int    `json:"user_limit"`
}

func (u Usage) Decision() Decision {
	return CheckLimits(u.GlobalCount, u.UserCount, u.GlobalLimit, u.UserLimit)
}

type Option func(*Service)

// WithClock overrides the time source used to compute the current day.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs every counter read-modify-write under one mutex, so sessions
// served by the same process never lose an update. Separate processes
// sharing a store can still race.
type Service struct {
	mu          sync.Mutex
	store       Store
	globalLimit int
	userLimit   int
	now         func() time.Time
}

func NewService(store Store, globalLimit, userLimit int, opts ...Option) *Service {
	s := &Service{
		store:       store,
		globalLimit: globalLimit,
		userLimit:   userLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Today() string {
	return s.now().Format(DateLayout)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Begin loads both records, resets stale ones and saves them back. It runs
// at the start of every interaction.
func (s *Service) Begin(ctx context.Context, sessionID string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	global, user, err := s.load(ctx, sessionID)
	if err != nil {
		return Usage{}, err
	}
	if err := s.save(ctx, sessionID, global, user); err != nil {
		return Usage{}, err
	}
	return s.usage(global, user), nil
}

// RecordSuccess counts one successful shared-key generation against both
// the global and the session counter.
func (s *Service) RecordSuccess(ctx context.Context, sessionID string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	global, user, err := s.load(ctx, sessionID)
	if err != nil {
		return Usage{}, err
	}
	global = Increment(global)
	user = Increment(user)

	if err := s.save(ctx, sessionID, global, user); err != nil {
		return Usage{}, err
	}
	return s.usage(global, user), nil
}

func (s *Service) load(ctx context.Context, sessionID string) (models.CounterRecord, models.CounterRecord, error) {
	today := s.Today()
	fresh := models.CounterRecord{Date: today}

	stored, err := s.store.LoadGlobal(ctx)
	if err != nil {
		return fresh, fresh, fmt.Errorf("load global counter: %w", err)
	}
	global := fresh
	if stored != nil {
		global = ResetIfStale(*stored, today)
	}

	stored, err = s.store.LoadUser(ctx, sessionID)
	if err != nil {
		return fresh, fresh, fmt.Errorf("load user counter: %w", err)
	}
	user := fresh
	if stored != nil {
		user = ResetIfStale(*stored, today)
	}

	return global, user, nil
}

func (s *Service) save(ctx context.Context, sessionID string, global, user models.CounterRecord) error {
	if err := s.store.SaveGlobal(ctx, global); err != nil {
		return fmt.Errorf("save global counter: %w", err)
	}
	if err := s.store.SaveUser(ctx, sessionID, user); err != nil {
		return fmt.Errorf("save user counter: %w", err)
	}
	return nil
}

func (s *Service) usage(global, user models.CounterRecord) Usage {
	return Usage{
		Date:        global.Date,
		GlobalCount: global.Count,
		GlobalLimit: s.globalLimit,
		UserCount:   user.Count,
		UserLimit:   s.userLimit,
	}
}
