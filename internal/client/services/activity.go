package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/api"
	"github.com/dmitrijs2005/declaro/internal/client/cache"
	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/declaro/internal/client/storage"
	"github.com/dmitrijs2005/declaro/internal/common"
)

const (
	ActivityNamespace = "activity"
	logsKey           = "all"
	KindLogCreate     = "log.create"

	// MaxLogs is the default number of retained entries.
	MaxLogs = 1000
)

type ActivityRemote interface {
	ListActivityLogs(ctx context.Context) ([]models.ActivityLog, error)
	PostActivityLog(ctx context.Context, l models.ActivityLog) error
}

// ActivityLogService is the append-only audit log. Entries are kept oldest
// first and truncated from the front once the cap is reached.
type ActivityLogService struct {
	mu      sync.Mutex
	store   *storage.Store
	remote  ActivityRemote
	online  OnlineChecker
	ns      cache.Namespace
	maxLogs int
	deps
}

func NewActivityLogService(store *storage.Store, remote ActivityRemote, online OnlineChecker, maxLogs int, opts ...Option) *ActivityLogService {
	d := newDeps(opts)
	if maxLogs <= 0 {
		maxLogs = MaxLogs
	}
	return &ActivityLogService{
		store:   store,
		remote:  remote,
		online:  online,
		ns:      cache.NewNamespace(store.Metadata, ActivityNamespace, d.log),
		maxLogs: maxLogs,
		deps:    d,
	}
}

// Init replays queued entries and adopts the server log when online.
func (s *ActivityLogService) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online.Online() {
		s.log.Info(ctx, "offline, using cached activity log")
		return nil
	}
	if _, err := s.flushLocked(ctx); err != nil {
		return err
	}
	return s.refreshLocked(ctx)
}

// AddLog records an entry. Unknown actions are rejected.
func (s *ActivityLogService) AddLog(ctx context.Context, in models.LogInput) (models.ActivityLog, error) {
	if !in.Action.Valid() {
		return models.ActivityLog{}, fmt.Errorf("%w: %q", common.ErrUnknownAction, in.Action)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := models.ActivityLog{
		ID:              s.ids.NewID(),
		Timestamp:       s.clock.Now(),
		UserID:          in.UserID,
		Username:        in.Username,
		Action:          in.Action,
		Label:           in.Action.Label(),
		Details:         in.Details,
		DeclarationID:   in.DeclarationID,
		DeclarationCode: in.DeclarationCode,
		Metadata:        maps.Clone(in.Metadata),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("encode log: %w", err)
	}

	err = s.store.InTx(ctx, func(ctx context.Context, r storage.Repos) error {
		ns := s.ns.With(r.Metadata)
		logs, err := s.load(ctx, ns)
		if err != nil {
			return err
		}
		if _, err := r.Outbox.Enqueue(ctx, outboxEntry(KindLogCreate, entry.ID, payload, entry.Timestamp)); err != nil {
			return err
		}
		return ns.Save(ctx, logsKey, s.trim(append(logs, entry)))
	})
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("save log: %w", err)
	}

	if s.online.Online() {
		res, err := s.flushLocked(ctx)
		if err != nil {
			s.log.Warn(ctx, "activity replay failed", "error", err)
		} else if res.Replayed > 0 {
			if err := s.refreshLocked(ctx); err != nil {
				s.log.Warn(ctx, "activity refetch failed", "error", err)
			}
		}
	}
	return entry, nil
}

// Recent returns up to n entries, newest first. n <= 0 returns everything.
func (s *ActivityLogService) Recent(ctx context.Context, n int) ([]models.ActivityLog, error) {
	logs, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	slices.Reverse(logs)
	return logs, nil
}

func (s *ActivityLogService) ByActor(ctx context.Context, userID string) ([]models.ActivityLog, error) {
	return s.filter(ctx, func(l models.ActivityLog) bool { return l.UserID == userID })
}

func (s *ActivityLogService) ByDeclaration(ctx context.Context, declarationID string) ([]models.ActivityLog, error) {
	return s.filter(ctx, func(l models.ActivityLog) bool { return l.DeclarationID == declarationID })
}

func (s *ActivityLogService) ByAction(ctx context.Context, action models.Action) ([]models.ActivityLog, error) {
	return s.filter(ctx, func(l models.ActivityLog) bool { return l.Action == action })
}

// ByDateRange returns entries with from <= timestamp <= to. A zero bound is
// open.
func (s *ActivityLogService) ByDateRange(ctx context.Context, from, to time.Time) ([]models.ActivityLog, error) {
	return s.filter(ctx, func(l models.ActivityLog) bool {
		if !from.IsZero() && l.Timestamp.Before(from) {
			return false
		}
		return to.IsZero() || !l.Timestamp.After(to)
	})
}

// Search matches q case-insensitively against details, username, action
// label and declaration code.
func (s *ActivityLogService) Search(ctx context.Context, q string) ([]models.ActivityLog, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	return s.filter(ctx, func(l models.ActivityLog) bool {
		if q == "" {
			return true
		}
		for _, field := range []string{l.Details, l.Username, l.Action.Label(), l.DeclarationCode} {
			if strings.Contains(strings.ToLower(field), q) {
				return true
			}
		}
		return false
	})
}

// Export serialises the whole log as indented JSON, oldest first.
func (s *ActivityLogService) Export(ctx context.Context) ([]byte, error) {
	logs, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(logs, "", "  ")
}

// Clear drops the local copy. Entries still queued for the server are kept.
func (s *ActivityLogService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ns.Purge(ctx)
}

func (s *ActivityLogService) All(ctx context.Context) ([]models.ActivityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, s.ns)
}

func (s *ActivityLogService) Pending(ctx context.Context) (int, error) {
	return s.store.Outbox.Count(ctx, KindLogCreate)
}

func (s *ActivityLogService) Flush(ctx context.Context) (FlushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.flushLocked(ctx)
	if err != nil {
		return res, err
	}
	if res.Replayed > 0 {
		return res, s.refreshLocked(ctx)
	}
	return res, nil
}

func (s *ActivityLogService) flushLocked(ctx context.Context) (FlushResult, error) {
	var res FlushResult
	entries, err := s.store.Outbox.List(ctx, KindLogCreate)
	if err != nil {
		return res, fmt.Errorf("list outbox: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var l models.ActivityLog
		err := json.Unmarshal(e.Payload, &l)
		if err == nil {
			err = s.remote.PostActivityLog(ctx, l)
		}
		if err == nil {
			if err := s.store.Outbox.Delete(ctx, e.Seq); err != nil {
				return res, err
			}
			res.Replayed++
			continue
		}
		if api.IsTransient(err) || errors.Is(err, common.ErrorUnauthorized) || ctx.Err() != nil {
			s.log.Info(ctx, "activity replay interrupted", "error", err)
			return res, nil
		}
		attempts, merr := s.store.Outbox.MarkFailed(ctx, e.Seq, err.Error())
		if merr != nil {
			return res, merr
		}
		if attempts >= MaxReplayAttempts {
			s.log.Error(ctx, "dropping activity log entry", "id", e.RecordID, "attempts", attempts, "error", err)
			if err := s.store.Outbox.Delete(ctx, e.Seq); err != nil {
				return res, err
			}
			res.Dropped++
			continue
		}
		res.Failed++
	}
	return res, nil
}

// refreshLocked replaces the cache with the server log, keeping local entries
// that are still waiting to be sent.
func (s *ActivityLogService) refreshLocked(ctx context.Context) error {
	remote, err := s.remote.ListActivityLogs(ctx)
	if err != nil {
		s.log.Warn(ctx, "activity refetch failed, keeping cache", "error", err)
		return nil
	}
	return s.store.InTx(ctx, func(ctx context.Context, r storage.Repos) error {
		ns := s.ns.With(r.Metadata)
		local, err := s.load(ctx, ns)
		if err != nil {
			return err
		}
		pending, err := r.Outbox.List(ctx, KindLogCreate)
		if err != nil {
			return err
		}
		queued := make(map[string]bool, len(pending))
		for _, e := range pending {
			queued[e.RecordID] = true
		}
		known := make(map[string]bool, len(remote))
		for _, l := range remote {
			known[l.ID] = true
		}
		for _, l := range local {
			if queued[l.ID] && !known[l.ID] {
				remote = append(remote, l)
			}
		}
		slices.SortStableFunc(remote, func(a, b models.ActivityLog) int { return a.Timestamp.Compare(b.Timestamp) })
		return ns.Save(ctx, logsKey, s.trim(remote))
	})
}

func (s *ActivityLogService) filter(ctx context.Context, keep func(models.ActivityLog) bool) ([]models.ActivityLog, error) {
	logs, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(logs, func(l models.ActivityLog) bool { return !keep(l) }), nil
}

// trim keeps the newest maxLogs entries.
func (s *ActivityLogService) trim(logs []models.ActivityLog) []models.ActivityLog {
	if len(logs) > s.maxLogs {
		return slices.Clone(logs[len(logs)-s.maxLogs:])
	}
	return logs
}

func (s *ActivityLogService) load(ctx context.Context, ns cache.Namespace) ([]models.ActivityLog, error) {
	var logs []models.ActivityLog
	if _, err := ns.Load(ctx, logsKey, &logs); err != nil {
		return nil, fmt.Errorf("load activity log: %w", err)
	}
	return logs, nil
}

func outboxEntry(kind, id string, payload []byte, at time.Time) outbox.Entry {
	return outbox.Entry{Kind: kind, RecordID: id, IdempotencyKey: id, Payload: payload, CreatedAt: at}
}
