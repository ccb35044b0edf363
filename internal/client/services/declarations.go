package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
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
	DeclarationsNamespace = "declarations"
	declarationsKey       = "all"

	KindDeclarationCreate = "declaration.create"
	KindDeclarationStatus = "declaration.status"
	KindTipCreate         = "tip.create"
	KindMessageCreate     = "message.create"

	// MaxReplayAttempts is how many rejected replays an outbox entry survives.
	MaxReplayAttempts = 5

	SystemActor    = "Système"
	createdComment = "Déclaration créée"
)

var declarationKinds = []string{KindDeclarationCreate, KindDeclarationStatus, KindTipCreate, KindMessageCreate}

// DeclarationRemote is the part of the portal API the declarations store uses.
type DeclarationRemote interface {
	ListDeclarations(ctx context.Context) ([]models.Declaration, error)
	TrackDeclaration(ctx context.Context, code string) (models.Declaration, error)
	CreateDeclaration(ctx context.Context, d models.Declaration) (api.Created, error)
	UpdateDeclaration(ctx context.Context, id string, p api.StatusPatch) error
	PostMessage(ctx context.Context, m models.Message) (models.Message, error)
	UploadAttachment(ctx context.Context, a models.Attachment) (models.Attachment, error)
	PostTip(ctx context.Context, t models.Tip, imageID string) (models.Tip, error)
}

// StatusUpdate is an administrative workflow change. Empty Priority and
// AssignedTo keep the current values; an empty ChangedBy is recorded as the
// system actor.
type StatusUpdate struct {
	ID         string
	Status     models.Status
	Priority   models.Priority
	ChangedBy  string
	Comment    string
	AssignedTo string
}

// FlushResult summarises one replay of the outbox.
type FlushResult struct {
	Replayed int
	Failed   int
	Dropped  int
	Skipped  int
	// Reconciled maps provisional ids to the ids issued by the server.
	Reconciled map[string]string
}

// DeclarationService is the offline-first declarations store. Every local
// mutation and its outbox entry are written in one transaction; replays run
// against the server when it is reachable.
type DeclarationService struct {
	mu     sync.Mutex
	store  *storage.Store
	remote DeclarationRemote
	online OnlineChecker
	ns     cache.Namespace
	deps
}

func NewDeclarationService(store *storage.Store, remote DeclarationRemote, online OnlineChecker, opts ...Option) *DeclarationService {
	d := newDeps(opts)
	return &DeclarationService{
		store:  store,
		remote: remote,
		online: online,
		ns:     cache.NewNamespace(store.Metadata, DeclarationsNamespace, d.log),
		deps:   d,
	}
}

// Init replays pending writes and replaces the cache with the server list
// when online. Offline, or when the server cannot be read, the cache is kept.
func (s *DeclarationService) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online.Online() {
		s.log.Info(ctx, "offline, using cached declarations")
		return nil
	}
	if _, err := s.flushLocked(ctx); err != nil {
		return err
	}
	return s.refreshLocked(ctx, nil)
}

func (s *DeclarationService) AddDeclaration(ctx context.Context, in models.DeclarationInput) (models.Declaration, error) {
	in.Normalize()
	if err := models.Validate(in); err != nil {
		return models.Declaration{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	id := s.ids.NewID()
	var d models.Declaration
	err := s.store.InTx(ctx, func(ctx context.Context, r storage.Repos) error {
		ns := s.ns.With(r.Metadata)
		list, err := s.load(ctx, ns)
		if err != nil {
			return err
		}
		code, err := NewTrackingCode(func(c string) bool { return indexByCode(list, c) >= 0 })
		if err != nil {
			return err
		}
		d = newDeclaration(id, code, in, now)
		if err := s.enqueue(ctx, r.Outbox, KindDeclarationCreate, id, id, d); err != nil {
			return err
		}
		return ns.Save(ctx, declarationsKey, append(list, d))
	})
	if err != nil {
		return models.Declaration{}, fmt.Errorf("save declaration: %w", err)
	}

	if !s.online.Online() {
		s.log.Info(ctx, "declaration queued for replay", "id", id, "tracking_code", d.TrackingCode)
		return d.Clone(), nil
	}

	// The record is safe locally; from here on a failure only delays sync.
	res, err := s.flushLocked(ctx)
	if err != nil {
		s.log.Warn(ctx, "declaration replay failed", "id", id, "error", err)
		return d.Clone(), nil
	}
	serverID, reconciled := res.Reconciled[id]
	if !reconciled {
		return d.Clone(), nil
	}
	if err := s.refreshLocked(ctx, res.Reconciled); err != nil {
		s.log.Warn(ctx, "declarations refetch failed", "error", err)
	}
	if got, err := s.findLocked(ctx, serverID); err == nil {
		return got, nil
	}
	return d.Clone(), nil
}

func newDeclaration(id, code string, in models.DeclarationInput, now time.Time) models.Declaration {
	d := models.Declaration{
		ID:             id,
		TrackingCode:   code,
		IdempotencyKey: id,
		DeclarantName:  in.DeclarantName,
		Phone:          in.Phone,
		Email:          in.Email,
		Type:           in.Type,
		Category:       in.Category,
		Description:    in.Description,
		IncidentDate:   in.IncidentDate,
		Location:       in.Location,
		Reward:         in.Reward,
		Attachments:    slices.Clone(in.Attachments),
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		BrowserInfo:    in.BrowserInfo,
		DeviceType:     in.DeviceType,
		DeviceModel:    in.DeviceModel,
		IPAddress:      in.IPAddress,
		StatusHistory: []models.StatusChange{{
			Status:    models.StatusPending,
			ChangedBy: SystemActor,
			ChangedAt: now,
			Comment:   createdComment,
		}},
		Tips:     []models.Tip{},
		Messages: []models.Message{},
	}
	if d.Attachments == nil {
		d.Attachments = []models.Attachment{}
	}
	if in.CoverImage != nil {
		img := *in.CoverImage
		d.CoverImage = &img
	}
	return d
}

// UpdateDeclarationStatus appends one history entry and applies the new
// workflow state. Online, the server is updated first and its failure is
// returned without touching the cache. Offline, or while the declaration has
// not reached the server yet, the change is applied locally and queued.
func (s *DeclarationService) UpdateDeclarationStatus(ctx context.Context, u StatusUpdate) (models.Declaration, error) {
	if !u.Status.Valid() {
		return models.Declaration{}, models.NewValidationError("status", "valeur non autorisée")
	}
	if !u.Priority.Valid() {
		return models.Declaration{}, models.NewValidationError("priority", "valeur non autorisée")
	}
	actor := strings.TrimSpace(u.ChangedBy)
	if actor == "" {
		actor = SystemActor
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.findLocked(ctx, u.ID)
	if err != nil {
		return models.Declaration{}, err
	}
	patch := api.StatusPatch{
		Status:      u.Status,
		Priority:    cmp.Or(u.Priority, current.Priority),
		ValidatedBy: actor,
		AssignedTo:  u.AssignedTo,
		Comment:     u.Comment,
	}

	queue := !s.online.Online()
	if !queue {
		provisional, err := s.hasPendingCreate(ctx, u.ID)
		if err != nil {
			return models.Declaration{}, err
		}
		queue = provisional
	}
	if !queue {
		if err := s.remote.UpdateDeclaration(ctx, u.ID, patch); err != nil {
			return models.Declaration{}, fmt.Errorf("update declaration %s: %w", u.ID, err)
		}
	}

	now := s.clock.Now()
	return s.update(ctx, u.ID, func(d *models.Declaration, q enqueuer) error {
		d.Status = u.Status
		d.Priority = patch.Priority
		if u.AssignedTo != "" {
			d.AssignedTo = u.AssignedTo
		}
		if u.Status == models.StatusValidated {
			d.ValidatedBy = actor
		}
		d.UpdatedAt = now
		d.StatusHistory = append(d.StatusHistory, models.StatusChange{
			Status:    u.Status,
			ChangedBy: actor,
			ChangedAt: now,
			Comment:   u.Comment,
		})
		if queue {
			return q(KindDeclarationStatus, d.ID, s.ids.NewID(), patch)
		}
		return nil
	})
}

func (s *DeclarationService) AddTip(ctx context.Context, declarationID string, in models.TipInput) (models.Tip, error) {
	in.Normalize()
	if err := models.Validate(in); err != nil {
		return models.Tip{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tip := models.Tip{
		ID:            s.ids.NewID(),
		DeclarationID: declarationID,
		TipsterPhone:  in.TipsterPhone,
		Description:   in.Description,
		Attachments:   slices.Clone(in.Attachments),
		CreatedAt:     s.clock.Now(),
	}
	if tip.Attachments == nil {
		tip.Attachments = []models.Attachment{}
	}
	_, err := s.update(ctx, declarationID, func(d *models.Declaration, q enqueuer) error {
		d.Tips = append(d.Tips, tip)
		d.UpdatedAt = tip.CreatedAt
		return q(KindTipCreate, d.ID, tip.ID, tip)
	})
	if err != nil {
		return models.Tip{}, err
	}
	s.syncAfterWrite(ctx)
	return tip, nil
}

// MarkTipAsRead flips the read flag of one tip. Marking twice is a no-op.
func (s *DeclarationService) MarkTipAsRead(ctx context.Context, declarationID, tipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.update(ctx, declarationID, func(d *models.Declaration, _ enqueuer) error {
		for i := range d.Tips {
			if d.Tips[i].ID == tipID {
				d.Tips[i].IsRead = true
				return nil
			}
		}
		return fmt.Errorf("tip %s: %w", tipID, common.ErrorNotFound)
	})
	return err
}

func (s *DeclarationService) AddMessage(ctx context.Context, declarationID string, in models.MessageInput) (models.Message, error) {
	in.Normalize()
	if err := models.Validate(in); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := models.Message{
		ID:            s.ids.NewID(),
		DeclarationID: declarationID,
		SenderID:      in.SenderID,
		SenderName:    in.SenderName,
		SenderType:    in.SenderType,
		Content:       in.Content,
		CreatedAt:     s.clock.Now(),
	}
	_, err := s.update(ctx, declarationID, func(d *models.Declaration, q enqueuer) error {
		d.Messages = append(d.Messages, msg)
		d.UpdatedAt = msg.CreatedAt
		return q(KindMessageCreate, d.ID, msg.ID, msg)
	})
	if err != nil {
		return models.Message{}, err
	}
	s.syncAfterWrite(ctx)
	return msg, nil
}

// MarkMessagesAsRead marks as read the messages written by the party opposite
// to reader and returns how many changed.
func (s *DeclarationService) MarkMessagesAsRead(ctx context.Context, declarationID string, reader models.SenderType) (int, error) {
	if reader != models.SenderAdmin && reader != models.SenderDeclarant {
		return 0, models.NewValidationError("senderType", "valeur non autorisée")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	_, err := s.update(ctx, declarationID, func(d *models.Declaration, _ enqueuer) error {
		for i := range d.Messages {
			if d.Messages[i].SenderType != reader && !d.Messages[i].IsRead {
				d.Messages[i].IsRead = true
				changed++
			}
		}
		return nil
	})
	return changed, err
}

func (s *DeclarationService) GetByTrackingCode(ctx context.Context, code string) (models.Declaration, error) {
	list, err := s.All(ctx)
	if err != nil {
		return models.Declaration{}, err
	}
	code = normalizeTrackingCode(code)
	if i := indexByCode(list, code); i >= 0 {
		return list[i], nil
	}
	return models.Declaration{}, fmt.Errorf("tracking code %s: %w", code, common.ErrorNotFound)
}

// Track looks a tracking code up in the cache first and then, when online,
// on the server.
func (s *DeclarationService) Track(ctx context.Context, code string) (models.Declaration, error) {
	d, err := s.GetByTrackingCode(ctx, code)
	if err == nil || !errors.Is(err, common.ErrorNotFound) || !s.online.Online() {
		return d, err
	}
	d, rerr := s.remote.TrackDeclaration(ctx, normalizeTrackingCode(code))
	if rerr != nil {
		if api.StatusOf(rerr) == http.StatusNotFound {
			return models.Declaration{}, err
		}
		return models.Declaration{}, fmt.Errorf("track %s: %w", code, rerr)
	}
	return d, nil
}

func (s *DeclarationService) GetByID(ctx context.Context, id string) (models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(ctx, id)
}

// Validated returns validated declarations, highest priority first and the
// most recent first within a priority.
func (s *DeclarationService) Validated(ctx context.Context) ([]models.Declaration, error) {
	list, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	out := slices.DeleteFunc(list, func(d models.Declaration) bool { return d.Status != models.StatusValidated })
	slices.SortStableFunc(out, func(a, b models.Declaration) int {
		if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *DeclarationService) UnreadTipsCount(ctx context.Context) (int, error) {
	list, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range list {
		n += d.UnreadTips()
	}
	return n, nil
}

// UnreadMessagesCount counts unread messages addressed to reader.
func (s *DeclarationService) UnreadMessagesCount(ctx context.Context, reader models.SenderType) (int, error) {
	list, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range list {
		n += d.UnreadMessagesFor(reader)
	}
	return n, nil
}

// All returns a copy of every cached declaration.
func (s *DeclarationService) All(ctx context.Context) ([]models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load(ctx, s.ns)
	if err != nil {
		return nil, err
	}
	out := make([]models.Declaration, len(list))
	for i, d := range list {
		out[i] = d.Clone()
	}
	return out, nil
}

// Pending is the number of declaration writes waiting for replay.
func (s *DeclarationService) Pending(ctx context.Context) (int, error) {
	return s.store.Outbox.Count(ctx, declarationKinds...)
}

// Flush replays queued writes and refetches the list when a provisional
// declaration reached the server.
func (s *DeclarationService) Flush(ctx context.Context) (FlushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.flushLocked(ctx)
	if err != nil {
		return res, err
	}
	if len(res.Reconciled) > 0 {
		if err := s.refreshLocked(ctx, res.Reconciled); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *DeclarationService) ExportJSON(ctx context.Context) ([]byte, error) {
	list, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(list, "", "  ")
}

// ImportJSON replaces the cache with a backup produced by ExportJSON. The
// backup must be an array of declarations with unique ids and tracking codes.
func (s *DeclarationService) ImportJSON(ctx context.Context, data []byte) (int, error) {
	var list []models.Declaration
	if err := json.Unmarshal(data, &list); err != nil {
		return 0, models.NewValidationError("file", "sauvegarde illisible")
	}
	if list == nil {
		return 0, models.NewValidationError("file", "la sauvegarde doit contenir une liste de déclarations")
	}
	ids := make(map[string]bool, len(list))
	codes := make(map[string]bool, len(list))
	for i := range list {
		d := &list[i]
		if d.ID == "" || d.TrackingCode == "" || !d.Status.Valid() {
			return 0, models.NewValidationError("file", fmt.Sprintf("déclaration %d invalide", i+1))
		}
		if ids[d.ID] || codes[d.TrackingCode] {
			return 0, models.NewValidationError("file", fmt.Sprintf("doublon: %s", d.TrackingCode))
		}
		ids[d.ID], codes[d.TrackingCode] = true, true
		if d.Tips == nil {
			d.Tips = []models.Tip{}
		}
		if d.Messages == nil {
			d.Messages = []models.Message{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ns.Save(ctx, declarationsKey, list); err != nil {
		return 0, err
	}
	return len(list), nil
}

// syncAfterWrite replays the outbox right away when online. Failures are
// left in the outbox.
func (s *DeclarationService) syncAfterWrite(ctx context.Context) {
	if !s.online.Online() {
		return
	}
	if _, err := s.flushLocked(ctx); err != nil {
		s.log.Warn(ctx, "replay after write failed", "error", err)
	}
}

func (s *DeclarationService) flushLocked(ctx context.Context) (FlushResult, error) {
	res := FlushResult{Reconciled: map[string]string{}}
	entries, err := s.store.Outbox.List(ctx, declarationKinds...)
	if err != nil {
		return res, fmt.Errorf("list outbox: %w", err)
	}

	blocked := make(map[string]bool)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		recordID := e.RecordID
		if id, ok := res.Reconciled[recordID]; ok {
			recordID = id
		}
		if blocked[recordID] {
			res.Skipped++
			continue
		}

		err := s.replay(ctx, e, recordID, &res)
		if err == nil {
			res.Replayed++
			continue
		}
		if api.IsTransient(err) || errors.Is(err, common.ErrorUnauthorized) || ctx.Err() != nil {
			s.log.Info(ctx, "replay interrupted", "kind", e.Kind, "record_id", recordID, "error", err)
			return res, nil
		}

		// Later entries of the same record depend on this one.
		blocked[recordID] = true
		attempts, merr := s.store.Outbox.MarkFailed(ctx, e.Seq, err.Error())
		if merr != nil {
			return res, fmt.Errorf("mark outbox entry %d: %w", e.Seq, merr)
		}
		if attempts >= MaxReplayAttempts {
			s.log.Error(ctx, "dropping outbox entry", "kind", e.Kind, "record_id", recordID, "attempts", attempts, "error", err)
			if derr := s.store.Outbox.Delete(ctx, e.Seq); derr != nil {
				return res, derr
			}
			res.Dropped++
			continue
		}
		s.log.Warn(ctx, "replay rejected", "kind", e.Kind, "record_id", recordID, "attempts", attempts, "error", err)
		res.Failed++
	}
	return res, nil
}

func (s *DeclarationService) replay(ctx context.Context, e outbox.Entry, recordID string, res *FlushResult) error {
	switch e.Kind {
	case KindDeclarationCreate:
		return s.replayCreate(ctx, e, res)
	case KindDeclarationStatus:
		var p api.StatusPatch
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("decode status payload: %w", err)
		}
		if err := s.remote.UpdateDeclaration(ctx, recordID, p); err != nil {
			return err
		}
	case KindTipCreate:
		var t models.Tip
		if err := json.Unmarshal(e.Payload, &t); err != nil {
			return fmt.Errorf("decode tip payload: %w", err)
		}
		t.DeclarationID = recordID
		if err := s.sendTip(ctx, t); err != nil {
			return err
		}
	case KindMessageCreate:
		var m models.Message
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			return fmt.Errorf("decode message payload: %w", err)
		}
		m.DeclarationID = recordID
		if _, err := s.remote.PostMessage(ctx, m); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown outbox kind %q", e.Kind)
	}
	return s.store.Outbox.Delete(ctx, e.Seq)
}

// replayCreate sends the current local copy of a provisional declaration (or
// the queued snapshot when the copy is gone), adopts the server ids and
// removes its own entry.
func (s *DeclarationService) replayCreate(ctx context.Context, e outbox.Entry, res *FlushResult) error {
	d, err := s.findLocked(ctx, e.RecordID)
	if errors.Is(err, common.ErrorNotFound) {
		err = json.Unmarshal(e.Payload, &d)
	}
	if err != nil {
		return fmt.Errorf("load declaration %s: %w", e.RecordID, err)
	}
	if d.IdempotencyKey == "" {
		d.IdempotencyKey = e.IdempotencyKey
	}

	created, err := s.remote.CreateDeclaration(ctx, d)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(ctx context.Context, r storage.Repos) error {
		if err := r.Outbox.Delete(ctx, e.Seq); err != nil {
			return err
		}
		if err := r.Outbox.Retarget(ctx, e.RecordID, created.ID); err != nil {
			return err
		}
		ns := s.ns.With(r.Metadata)
		list, err := s.load(ctx, ns)
		if err != nil {
			return err
		}
		if i := indexByID(list, e.RecordID); i >= 0 {
			reconcile(&list[i], created)
		}
		return ns.Save(ctx, declarationsKey, list)
	})
	if err != nil {
		return fmt.Errorf("reconcile declaration %s: %w", e.RecordID, err)
	}
	res.Reconciled[e.RecordID] = created.ID
	s.log.Info(ctx, "declaration synced", "local_id", e.RecordID, "id", created.ID, "tracking_code", created.TrackingCode)
	return nil
}

func reconcile(d *models.Declaration, created api.Created) {
	d.ID = created.ID
	if created.TrackingCode != "" {
		d.TrackingCode = created.TrackingCode
	}
	for i := range d.Tips {
		d.Tips[i].DeclarationID = created.ID
	}
	for i := range d.Messages {
		d.Messages[i].DeclarationID = created.ID
	}
}

// sendTip uploads inline attachments and posts the tip referencing the first
// one as its image.
func (s *DeclarationService) sendTip(ctx context.Context, t models.Tip) error {
	imageID := ""
	for _, a := range t.Attachments {
		if a.Data == "" {
			continue
		}
		up, err := s.remote.UploadAttachment(ctx, a)
		if err != nil {
			return fmt.Errorf("upload %s: %w", a.Name, err)
		}
		if imageID == "" {
			imageID = up.ID
		}
	}
	_, err := s.remote.PostTip(ctx, t, imageID)
	return err
}

// refreshLocked replaces the cache with the server list. Declarations still
// waiting for their create replay, and those in keep that the server does not
// list yet, survive the replacement. Remote failures leave the cache as is.
func (s *DeclarationService) refreshLocked(ctx context.Context, keep map[string]string) error {
	remote, err := s.remote.ListDeclarations(ctx)
	if err != nil {
		s.log.Warn(ctx, "declarations refetch failed, keeping cache", "error", err)
		return nil
	}
	return s.store.InTx(ctx, func(ctx context.Context, r storage.Repos) error {
		ns := s.ns.With(r.Metadata)
		local, err := s.load(ctx, ns)
		if err != nil {
			return err
		}
		pending, err := r.Outbox.List(ctx, KindDeclarationCreate)
		if err != nil {
			return err
		}
		survivors := make(map[string]bool, len(pending)+len(keep))
		for _, e := range pending {
			survivors[e.RecordID] = true
		}
		for _, id := range keep {
			survivors[id] = true
		}
		known := make(map[string]bool, len(remote))
		for i, d := range remote {
			known[d.ID] = true
			if j := indexByID(local, d.ID); j >= 0 {
				keepInlineFiles(&remote[i], local[j])
			}
		}
		for _, d := range local {
			if survivors[d.ID] && !known[d.ID] {
				remote = append(remote, d)
			}
		}
		return ns.Save(ctx, declarationsKey, remote)
	})
}

// keepInlineFiles restores the inline payloads of files the server only
// returned references for. The server URL is kept alongside the local data.
func keepInlineFiles(remote *models.Declaration, local models.Declaration) {
	if c, l := remote.CoverImage, local.CoverImage; c != nil && l != nil && c.Data == "" && l.Data != "" {
		img := *l
		img.URL = cmp.Or(c.URL, l.URL)
		remote.CoverImage = &img
	}
	used := make([]bool, len(local.Attachments))
	for i, a := range remote.Attachments {
		if a.Data != "" {
			continue
		}
		for j, l := range local.Attachments {
			if used[j] || l.Name != a.Name || l.Data == "" {
				continue
			}
			used[j] = true
			l.URL = cmp.Or(a.URL, l.URL)
			remote.Attachments[i] = l
			break
		}
	}
}

type enqueuer func(kind, recordID, key string, payload any) error

// update loads the declaration id, applies fn and persists the result with
// any outbox entries fn queued, atomically.
func (s *DeclarationService) update(ctx context.Context, id string, fn func(d *models.Declaration, q enqueuer) error) (models.Declaration, error) {
	var out models.Declaration
	err := s.store.InTx(ctx, func(ctx context.Context, r storage.Repos) error {
		ns := s.ns.With(r.Metadata)
		list, err := s.load(ctx, ns)
		if err != nil {
			return err
		}
		i := indexByID(list, id)
		if i < 0 {
			return fmt.Errorf("declaration %s: %w", id, common.ErrorNotFound)
		}
		q := func(kind, recordID, key string, payload any) error {
			return s.enqueue(ctx, r.Outbox, kind, recordID, key, payload)
		}
		if err := fn(&list[i], q); err != nil {
			return err
		}
		if err := ns.Save(ctx, declarationsKey, list); err != nil {
			return err
		}
		out = list[i].Clone()
		return nil
	})
	return out, err
}

func (s *DeclarationService) enqueue(ctx context.Context, repo outbox.Repository, kind, recordID, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	_, err = repo.Enqueue(ctx, outbox.Entry{
		Kind:           kind,
		RecordID:       recordID,
		IdempotencyKey: key,
		Payload:        raw,
		CreatedAt:      s.clock.Now(),
	})
	return err
}

func (s *DeclarationService) hasPendingCreate(ctx context.Context, id string) (bool, error) {
	entries, err := s.store.Outbox.List(ctx, KindDeclarationCreate)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(entries, func(e outbox.Entry) bool { return e.RecordID == id }), nil
}

func (s *DeclarationService) findLocked(ctx context.Context, id string) (models.Declaration, error) {
	list, err := s.load(ctx, s.ns)
	if err != nil {
		return models.Declaration{}, err
	}
	if i := indexByID(list, id); i >= 0 {
		return list[i].Clone(), nil
	}
	return models.Declaration{}, fmt.Errorf("declaration %s: %w", id, common.ErrorNotFound)
}

func (s *DeclarationService) load(ctx context.Context, ns cache.Namespace) ([]models.Declaration, error) {
	var list []models.Declaration
	if _, err := ns.Load(ctx, declarationsKey, &list); err != nil {
		return nil, fmt.Errorf("load declarations: %w", err)
	}
	return list, nil
}

func indexByID(list []models.Declaration, id string) int {
	return slices.IndexFunc(list, func(d models.Declaration) bool { return d.ID == id })
}

func indexByCode(list []models.Declaration, code string) int {
	return slices.IndexFunc(list, func(d models.Declaration) bool { return d.TrackingCode == code })
}

func normalizeTrackingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
