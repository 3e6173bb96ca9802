package shop

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/oligo/txprop"
)

// LogFailureMarker makes LogRepository.Save fail when it appears in a message.
const LogFailureMarker = "log-failure"

// ErrLogFailure is the fault raised for messages containing LogFailureMarker.
var ErrLogFailure = errors.New("shop: log failure")

type Member struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
}

type LogEntry struct {
	ID      int64  `db:"id"`
	Message string `db:"message"`
}

type MemberRepository struct {
	tm *Manager
}

func NewMemberRepository(tm *Manager) *MemberRepository {
	return &MemberRepository{tm: tm}
}

func (r *MemberRepository) Save(ctx context.Context, m *Member) error {
	return r.tm.Exec(ctx, func(tx *TxStatus) error {
		id, err := tx.Resource().Insert(tx.Context(), `INSERT INTO member (username) VALUES (:username)`, m)
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	}, txprop.WithName("MemberRepository.Save"))
}

// Find returns the member named username, or nil.
func (r *MemberRepository) Find(ctx context.Context, username string) (*Member, error) {
	return txprop.Run(ctx, r.tm, func(tx *TxStatus) (*Member, error) {
		var m Member
		err := tx.Resource().GetOne(tx.Context(), &m, `SELECT id, username FROM member WHERE username = ?`, username)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &m, nil
	}, txprop.WithName("MemberRepository.Find"))
}

// LogRepository stores audit messages, in the caller's transaction or in its own depending
// on the configured propagation.
type LogRepository struct {
	tm          *Manager
	propagation txprop.Propagation
}

func NewLogRepository(tm *Manager, propagation txprop.Propagation) *LogRepository {
	return &LogRepository{tm: tm, propagation: propagation}
}

func (r *LogRepository) Save(ctx context.Context, entry *LogEntry) error {
	return r.tm.Exec(ctx, func(tx *TxStatus) error {
		// refused before the insert so a requires-new log never waits on the caller's write lock
		if strings.Contains(entry.Message, LogFailureMarker) {
			return txprop.Wrap(txprop.Fault("log"), ErrLogFailure)
		}
		id, err := tx.Resource().Insert(tx.Context(), `INSERT INTO log (message) VALUES (:message)`, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		return nil
	}, txprop.WithName("LogRepository.Save"), txprop.WithPropagation(r.propagation))
}

func (r *LogRepository) Find(ctx context.Context, message string) (*LogEntry, error) {
	return txprop.Run(ctx, r.tm, func(tx *TxStatus) (*LogEntry, error) {
		var e LogEntry
		err := tx.Resource().GetOne(tx.Context(), &e, `SELECT id, message FROM log WHERE message = ?`, message)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &e, nil
	}, txprop.WithName("LogRepository.Find"))
}

// MemberService joins members and records an audit log entry for each.
type MemberService struct {
	tm      *Manager
	members *MemberRepository
	logs    *LogRepository
	logger  txprop.Logger

	// outer wraps each join in one transaction the repositories participate in
	outer bool
}

func NewMemberService(tm *Manager, members *MemberRepository, logs *LogRepository, logger txprop.Logger, outer bool) *MemberService {
	return &MemberService{tm: tm, members: members, logs: logs, logger: logger, outer: outer}
}

// JoinV1 saves the member and its log entry. A log failure is returned.
func (s *MemberService) JoinV1(ctx context.Context, username string) error {
	return s.boundary(ctx, "MemberService.JoinV1", func(ctx context.Context) error {
		s.logger.Info("saving member", "username", username)
		if err := s.members.Save(ctx, &Member{Username: username}); err != nil {
			return err
		}
		s.logger.Info("saving log", "username", username)
		return s.logs.Save(ctx, &LogEntry{Message: username})
	})
}

// JoinV2 is JoinV1 but recovers from a log failure so the member is kept. Inside an outer
// transaction the recovered failure has already marked it rollback-only unless the log
// repository runs in its own transaction.
func (s *MemberService) JoinV2(ctx context.Context, username string) error {
	return s.boundary(ctx, "MemberService.JoinV2", func(ctx context.Context) error {
		if err := s.members.Save(ctx, &Member{Username: username}); err != nil {
			return err
		}
		if err := s.logs.Save(ctx, &LogEntry{Message: username}); err != nil {
			s.logger.Warn("log save failed, returning normally", "username", username, "error", err)
		}
		return nil
	})
}

func (s *MemberService) boundary(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !s.outer {
		return fn(ctx)
	}
	return s.tm.Exec(ctx, func(tx *TxStatus) error {
		return fn(tx.Context())
	}, txprop.WithName(name))
}
