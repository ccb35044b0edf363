package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/declaro/internal/client/api"
	"github.com/dmitrijs2005/declaro/internal/client/cache"
	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/client/storage"
	"github.com/dmitrijs2005/declaro/internal/netx"
)

const (
	SettingsNamespace = "settings"
	protectionKey     = "protection"
)

type SettingsRemote interface {
	ProtectionSettings(ctx context.Context) (models.ProtectionSettings, error)
	UpdateProtectionSettings(ctx context.Context, s models.ProtectionSettings) (models.ProtectionSettings, error)
}

// SettingsService reads and edits the portal protection switches. Reads fall
// back to the last copy seen; edits need the server.
type SettingsService struct {
	mu     sync.Mutex
	remote SettingsRemote
	online OnlineChecker
	ns     cache.Namespace
	deps
}

func NewSettingsService(store *storage.Store, remote SettingsRemote, online OnlineChecker, opts ...Option) *SettingsService {
	d := newDeps(opts)
	return &SettingsService{
		remote: remote,
		online: online,
		ns:     cache.NewNamespace(store.Metadata, SettingsNamespace, d.log),
		deps:   d,
	}
}

// Protection returns the server settings when reachable and the cached copy
// otherwise. The bool is false when neither is available.
func (s *SettingsService) Protection(ctx context.Context) (models.ProtectionSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online.Online() {
		p, err := s.remote.ProtectionSettings(ctx)
		if err == nil {
			if err := s.ns.Save(ctx, protectionKey, p); err != nil {
				return models.ProtectionSettings{}, false, err
			}
			return p, true, nil
		}
		if !api.IsTransient(err) {
			return models.ProtectionSettings{}, false, fmt.Errorf("protection settings: %w", err)
		}
		s.log.Warn(ctx, "protection settings unreachable, using cache", "error", err)
	}

	var p models.ProtectionSettings
	ok, err := s.ns.Load(ctx, protectionKey, &p)
	return p, ok, err
}

// UpdateProtection validates the blacklist, sends the settings and caches the
// server answer.
func (s *SettingsService) UpdateProtection(ctx context.Context, p models.ProtectionSettings) (models.ProtectionSettings, error) {
	ips := make([]string, 0, len(p.IPBlacklist))
	for _, raw := range p.IPBlacklist {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := netx.NormalizeIP(raw)
		if ip == "" {
			return models.ProtectionSettings{}, models.NewValidationError("ipBlacklist", fmt.Sprintf("adresse IP invalide: %s", raw))
		}
		ips = append(ips, ip)
	}
	p.IPBlacklist = ips
	if p.RateLimitDeclarations && strings.TrimSpace(p.RateLimitDeclarationsValue) == "" {
		return models.ProtectionSettings{}, models.NewValidationError("rateLimitDeclarationsValue", "champ obligatoire")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online.Online() {
		return models.ProtectionSettings{}, fmt.Errorf("update protection settings: %w", api.ErrUnavailable)
	}
	saved, err := s.remote.UpdateProtectionSettings(ctx, p)
	if err != nil {
		return models.ProtectionSettings{}, fmt.Errorf("update protection settings: %w", err)
	}
	if err := s.ns.Save(ctx, protectionKey, saved); err != nil {
		return models.ProtectionSettings{}, err
	}
	s.log.Info(ctx, "protection settings updated", "blacklist", len(saved.IPBlacklist))
	return saved, nil
}
