package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/declaro/internal/client/api"
	"github.com/dmitrijs2005/declaro/internal/client/cache"
	"github.com/dmitrijs2005/declaro/internal/client/events"
	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/client/storage"
	"github.com/dmitrijs2005/declaro/internal/common"
	"github.com/dmitrijs2005/declaro/internal/cryptox"
)

const (
	usersKey   = "users"
	sessionKey = "session"
	pendingKey = "pending_2fa"

	// OTPTTL is how long a second-factor challenge stays valid.
	OTPTTL = 5 * time.Minute
)

type State int

const (
	StateAnonymous State = iota
	StatePending2FA
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StatePending2FA:
		return "pending-2fa"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// AuthRemote is the authentication part of the portal API.
type AuthRemote interface {
	Register(ctx context.Context, reg models.Registration) (models.AdminUser, error)
	Login(ctx context.Context, c models.Credentials) (api.LoginResult, error)
	Verify2FA(ctx context.Context, userID, code string) (string, error)
	Me(ctx context.Context) (models.AdminUser, error)
	SetTwoFactor(ctx context.Context, userID string, enabled bool) error
}

// Subscriber is the part of the event bus the auth service listens on.
type Subscriber interface {
	Subscribe(topic events.Topic, h events.Handler) (unsubscribe func())
}

// LoginResult tells whether a session was opened or a second factor is
// expected. It never carries the one-time code.
type LoginResult struct {
	User        models.AdminUser
	Requires2FA bool
}

// AuthService manages admin accounts, the session and 2FA challenges. Users
// are cached locally with an argon2id hash so that login keeps working
// offline. All state lives in the auth namespace of the cache.
type AuthService struct {
	mu          sync.Mutex
	remote      AuthRemote
	online      OnlineChecker
	tokens      *cache.TokenStore
	otp         OTPSender
	ns          cache.Namespace
	unsubscribe func()
	deps
}

func NewAuthService(store *storage.Store, remote AuthRemote, online OnlineChecker, tokens *cache.TokenStore, otp OTPSender, bus Subscriber, opts ...Option) *AuthService {
	d := newDeps(opts)
	s := &AuthService{
		remote: remote,
		online: online,
		tokens: tokens,
		otp:    otp,
		ns:     cache.NewNamespace(store.Metadata, cache.AuthNamespace, d.log),
		deps:   d,
	}
	if bus != nil {
		s.unsubscribe = bus.Subscribe(events.TopicAuthLogout, s.onForcedLogout)
	}
	return s
}

// Close stops listening for forced logouts.
func (s *AuthService) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// onForcedLogout runs when the server rejected the token, possibly while a
// service call is in flight, so it must not take the service lock. A pending
// challenge survives: a wrong code is also answered with 401.
func (s *AuthService) onForcedLogout(ctx context.Context, e events.Event) {
	if err := s.ns.Remove(ctx, sessionKey); err != nil {
		s.log.Error(ctx, "failed to clear session", "error", err)
		return
	}
	s.log.Info(ctx, "session closed by server", "reason", e.Reason)
}

func (s *AuthService) Register(ctx context.Context, reg models.Registration) (models.AdminUser, error) {
	reg.Normalize()
	if err := models.Validate(reg); err != nil {
		return models.AdminUser{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.users(ctx)
	if err != nil {
		return models.AdminUser{}, err
	}
	if slices.ContainsFunc(users, func(u models.AdminUser) bool { return u.Username == reg.Username }) {
		return models.AdminUser{}, common.ErrUsernameTaken
	}
	if slices.ContainsFunc(users, func(u models.AdminUser) bool { return strings.EqualFold(u.Email, reg.Email) }) {
		return models.AdminUser{}, common.ErrEmailTaken
	}

	hash, err := cryptox.HashPassword(reg.Password)
	if err != nil {
		return models.AdminUser{}, err
	}
	user := models.AdminUser{
		ID:               s.ids.NewID(),
		Username:         reg.Username,
		Email:            reg.Email,
		CreatedAt:        s.clock.Now(),
		TwoFactorEnabled: reg.Enable2FA,
	}

	if s.online.Online() {
		remote, err := s.remote.Register(ctx, reg)
		switch {
		case err == nil:
			user.ID = remote.ID
			if !remote.CreatedAt.IsZero() {
				user.CreatedAt = remote.CreatedAt
			}
		case api.IsTransient(err):
			s.log.Warn(ctx, "registration server unreachable, registering locally", "username", reg.Username, "error", err)
		case api.StatusOf(err) == http.StatusBadRequest:
			return models.AdminUser{}, registrationRejected(err)
		default:
			return models.AdminUser{}, fmt.Errorf("register %s: %w", reg.Username, err)
		}
	}

	user.PasswordHash = hash
	if err := s.ns.Save(ctx, usersKey, append(users, user)); err != nil {
		return models.AdminUser{}, err
	}
	s.log.Info(ctx, "user registered", "username", user.Username, "two_factor", user.TwoFactorEnabled)
	return user.Public(), nil
}

// registrationRejected maps a 400 from the register endpoint onto the same
// errors the local duplicate checks return. Both a detail message and a
// payload keyed by field are understood.
func registrationRejected(err error) error {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	fields, _ := apiErr.Payload.(map[string]any)
	msg := strings.ToLower(apiErr.Message)
	switch {
	case fields["username"] != nil || strings.Contains(msg, "utilisateur") || strings.Contains(msg, "username"):
		return fmt.Errorf("%w: %s", common.ErrUsernameTaken, apiErr.Message)
	case fields["email"] != nil || strings.Contains(msg, "email"):
		return fmt.Errorf("%w: %s", common.ErrEmailTaken, apiErr.Message)
	}
	return models.NewValidationError("registration", apiErr.Message)
}

// Login checks credentials against the server when it is reachable and
// against the local user set otherwise.
func (s *AuthService) Login(ctx context.Context, c models.Credentials) (LoginResult, error) {
	c.Normalize()
	if err := models.Validate(c); err != nil {
		return LoginResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online.Online() {
		res, err := s.remote.Login(ctx, c)
		switch {
		case err == nil:
			return s.completeRemoteLogin(ctx, c, res)
		case api.IsTransient(err):
			s.log.Warn(ctx, "auth server unreachable, checking credentials locally", "error", err)
		case api.StatusOf(err) == http.StatusUnauthorized || api.StatusOf(err) == http.StatusBadRequest:
			return LoginResult{}, common.ErrInvalidCredentials
		default:
			return LoginResult{}, fmt.Errorf("login: %w", err)
		}
	}
	return s.localLogin(ctx, c)
}

func (s *AuthService) completeRemoteLogin(ctx context.Context, c models.Credentials, res api.LoginResult) (LoginResult, error) {
	hash, err := cryptox.HashPassword(c.Password)
	if err != nil {
		return LoginResult{}, err
	}

	if res.ChallengeRequired() {
		if _, err := s.rememberUser(ctx, models.AdminUser{ID: res.ChallengeUserID, Username: c.Username, TwoFactorEnabled: true}, hash); err != nil {
			return LoginResult{}, err
		}
		pending := models.PendingVerification{
			UserID:    res.ChallengeUserID,
			Username:  c.Username,
			ExpiresAt: s.clock.Now().Add(OTPTTL),
			Remote:    true,
		}
		if err := s.ns.Save(ctx, pendingKey, pending); err != nil {
			return LoginResult{}, err
		}
		s.log.Info(ctx, "second factor requested by server", "username", c.Username)
		return LoginResult{Requires2FA: true}, nil
	}

	if err := s.tokens.SetToken(ctx, res.Token); err != nil {
		return LoginResult{}, err
	}
	me, err := s.remote.Me(ctx)
	if err != nil {
		return LoginResult{}, fmt.Errorf("fetch profile: %w", err)
	}
	user, err := s.rememberUser(ctx, me, hash)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.openSession(ctx, user); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user.Public()}, nil
}

func (s *AuthService) localLogin(ctx context.Context, c models.Credentials) (LoginResult, error) {
	users, err := s.users(ctx)
	if err != nil {
		return LoginResult{}, err
	}
	i := slices.IndexFunc(users, func(u models.AdminUser) bool { return u.Username == c.Username })
	if i < 0 || users[i].PasswordHash == "" {
		return LoginResult{}, common.ErrInvalidCredentials
	}
	user := users[i]
	ok, err := cryptox.VerifyPassword(c.Password, user.PasswordHash)
	if err != nil {
		s.log.Warn(ctx, "unreadable password hash", "username", user.Username, "error", err)
		return LoginResult{}, common.ErrInvalidCredentials
	}
	if !ok {
		return LoginResult{}, common.ErrInvalidCredentials
	}

	if !user.TwoFactorEnabled {
		if err := s.openSession(ctx, user); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{User: user.Public()}, nil
	}

	code, err := cryptox.GenerateOTP()
	if err != nil {
		return LoginResult{}, err
	}
	pending := models.PendingVerification{
		UserID:    user.ID,
		Username:  user.Username,
		CodeHash:  cryptox.HashCode(code),
		ExpiresAt: s.clock.Now().Add(OTPTTL),
	}
	if err := s.ns.Save(ctx, pendingKey, pending); err != nil {
		return LoginResult{}, err
	}
	if err := s.otp.SendOTP(ctx, user.Public(), code, pending.ExpiresAt); err != nil {
		if rerr := s.ns.Remove(ctx, pendingKey); rerr != nil {
			s.log.Warn(ctx, "failed to clear undelivered challenge", "username", user.Username, "error", rerr)
		}
		return LoginResult{}, fmt.Errorf("deliver verification code: %w", err)
	}
	s.log.Info(ctx, "verification code sent", "username", user.Username)
	return LoginResult{Requires2FA: true}, nil
}

// Verify2FA answers the pending challenge. An expired challenge is cleared;
// a wrong code keeps it so the user can retry.
func (s *AuthService) Verify2FA(ctx context.Context, code string) (models.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending models.PendingVerification
	ok, err := s.ns.Load(ctx, pendingKey, &pending)
	if err != nil {
		return models.AdminUser{}, err
	}
	if !ok {
		return models.AdminUser{}, common.ErrNoPendingVerification
	}
	if pending.Expired(s.clock.Now()) {
		if err := s.ns.Remove(ctx, pendingKey); err != nil {
			return models.AdminUser{}, err
		}
		return models.AdminUser{}, common.ErrVerificationExpired
	}
	code = strings.TrimSpace(code)
	if models.ValidateCode(code) != nil {
		return models.AdminUser{}, common.ErrIncorrectCode
	}

	if pending.Remote {
		return s.verifyRemote(ctx, pending, code)
	}

	if !cryptox.CodeMatches(code, pending.CodeHash) {
		return models.AdminUser{}, common.ErrIncorrectCode
	}
	user, err := s.userByID(ctx, pending.UserID)
	if err != nil {
		return models.AdminUser{}, err
	}
	if err := s.openSession(ctx, user); err != nil {
		return models.AdminUser{}, err
	}
	return user.Public(), nil
}

func (s *AuthService) verifyRemote(ctx context.Context, pending models.PendingVerification, code string) (models.AdminUser, error) {
	if !s.online.Online() {
		return models.AdminUser{}, fmt.Errorf("verify code: %w", api.ErrUnavailable)
	}
	tok, err := s.remote.Verify2FA(ctx, pending.UserID, code)
	if err != nil {
		switch api.StatusOf(err) {
		case http.StatusUnauthorized:
			return models.AdminUser{}, common.ErrIncorrectCode
		case http.StatusBadRequest:
			if rerr := s.ns.Remove(ctx, pendingKey); rerr != nil {
				return models.AdminUser{}, rerr
			}
			if strings.Contains(strings.ToLower(err.Error()), "expir") {
				return models.AdminUser{}, common.ErrVerificationExpired
			}
			return models.AdminUser{}, common.ErrNoPendingVerification
		}
		return models.AdminUser{}, fmt.Errorf("verify code: %w", err)
	}

	if err := s.tokens.SetToken(ctx, tok); err != nil {
		return models.AdminUser{}, err
	}
	me, err := s.remote.Me(ctx)
	if err != nil {
		return models.AdminUser{}, fmt.Errorf("fetch profile: %w", err)
	}
	user, err := s.rememberUser(ctx, me, "")
	if err != nil {
		return models.AdminUser{}, err
	}
	if err := s.openSession(ctx, user); err != nil {
		return models.AdminUser{}, err
	}
	return user.Public(), nil
}

func (s *AuthService) CancelPending2FA(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ns.Remove(ctx, pendingKey)
}

// Logout clears the session, any pending challenge and the token. Calling it
// while logged out is fine.
func (s *AuthService) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ns.Remove(ctx, sessionKey); err != nil {
		return err
	}
	if err := s.ns.Remove(ctx, pendingKey); err != nil {
		return err
	}
	return s.tokens.ClearToken(ctx)
}

func (s *AuthService) Enable2FA(ctx context.Context, userID string) (models.AdminUser, error) {
	return s.setTwoFactor(ctx, userID, true)
}

func (s *AuthService) Disable2FA(ctx context.Context, userID string) (models.AdminUser, error) {
	return s.setTwoFactor(ctx, userID, false)
}

func (s *AuthService) setTwoFactor(ctx context.Context, userID string, enabled bool) (models.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.sessionUser(ctx); err != nil {
		return models.AdminUser{}, err
	} else if !ok {
		return models.AdminUser{}, common.ErrorUnauthorized
	}

	users, err := s.users(ctx)
	if err != nil {
		return models.AdminUser{}, err
	}
	i := slices.IndexFunc(users, func(u models.AdminUser) bool { return u.ID == userID })
	if i < 0 {
		return models.AdminUser{}, common.ErrUserNotFound
	}

	if s.online.Online() {
		tok, err := s.tokens.Token(ctx)
		if err != nil {
			return models.AdminUser{}, err
		}
		if tok != "" {
			if err := s.remote.SetTwoFactor(ctx, userID, enabled); err != nil {
				if api.StatusOf(err) == http.StatusNotFound {
					return models.AdminUser{}, common.ErrUserNotFound
				}
				return models.AdminUser{}, fmt.Errorf("update user %s: %w", userID, err)
			}
		}
	}

	users[i].TwoFactorEnabled = enabled
	if err := s.ns.Save(ctx, usersKey, users); err != nil {
		return models.AdminUser{}, err
	}
	return users[i].Public(), nil
}

// Restore re-establishes the session on startup. With a live token and a
// reachable server the server profile is trusted; a rejected or expired token
// clears local auth state. Offline, the cached session is used as is.
func (s *AuthService) Restore(ctx context.Context) (models.AdminUser, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dropExpiredChallenge(ctx); err != nil {
		return models.AdminUser{}, false, err
	}

	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return models.AdminUser{}, false, err
	}
	if tok != "" && tokenExpired(tok, s.clock.Now()) {
		s.log.Info(ctx, "cached token expired")
		if err := s.clearSession(ctx); err != nil {
			return models.AdminUser{}, false, err
		}
		return models.AdminUser{}, false, nil
	}

	if tok != "" && s.online.Online() {
		me, err := s.remote.Me(ctx)
		switch {
		case err == nil:
			user, err := s.rememberUser(ctx, me, "")
			if err != nil {
				return models.AdminUser{}, false, err
			}
			if err := s.openSession(ctx, user); err != nil {
				return models.AdminUser{}, false, err
			}
			return user.Public(), true, nil
		case api.IsTransient(err):
			s.log.Warn(ctx, "profile fetch failed, using cached session", "error", err)
		default:
			s.log.Info(ctx, "token rejected, clearing session", "error", err)
			if err := s.clearSession(ctx); err != nil {
				return models.AdminUser{}, false, err
			}
			return models.AdminUser{}, false, nil
		}
	}

	user, ok, err := s.sessionUser(ctx)
	if err != nil || !ok {
		return models.AdminUser{}, false, err
	}
	return user.Public(), true, nil
}

func (s *AuthService) CurrentUser(ctx context.Context) (models.AdminUser, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok, err := s.sessionUser(ctx)
	return user.Public(), ok, err
}

func (s *AuthService) State(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.sessionUser(ctx); err != nil {
		return StateAnonymous, err
	} else if ok {
		return StateAuthenticated, nil
	}
	var pending models.PendingVerification
	ok, err := s.ns.Load(ctx, pendingKey, &pending)
	if err != nil {
		return StateAnonymous, err
	}
	if ok && !pending.Expired(s.clock.Now()) {
		return StatePending2FA, nil
	}
	return StateAnonymous, nil
}

// IsFirstSetup reports whether no admin account is known yet.
func (s *AuthService) IsFirstSetup(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.users(ctx)
	return len(users) == 0, err
}

func (s *AuthService) HasAdminAccess(ctx context.Context) bool {
	_, ok, err := s.CurrentUser(ctx)
	return err == nil && ok
}

// Users lists the known admin accounts without credentials.
func (s *AuthService) Users(ctx context.Context) ([]models.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.users(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = users[i].Public()
	}
	return users, nil
}

func (s *AuthService) openSession(ctx context.Context, user models.AdminUser) error {
	if err := s.ns.Save(ctx, sessionKey, models.Session{UserID: user.ID, Username: user.Username, Since: s.clock.Now()}); err != nil {
		return err
	}
	if err := s.ns.Remove(ctx, pendingKey); err != nil {
		return err
	}
	s.log.Info(ctx, "session opened", "username", user.Username)
	return nil
}

func (s *AuthService) clearSession(ctx context.Context) error {
	if err := s.ns.Remove(ctx, sessionKey); err != nil {
		return err
	}
	return s.tokens.ClearToken(ctx)
}

func (s *AuthService) dropExpiredChallenge(ctx context.Context) error {
	var pending models.PendingVerification
	ok, err := s.ns.Load(ctx, pendingKey, &pending)
	if err != nil || !ok || !pending.Expired(s.clock.Now()) {
		return err
	}
	return s.ns.Remove(ctx, pendingKey)
}

// sessionUser resolves the stored session. A session pointing at an unknown
// user is discarded.
func (s *AuthService) sessionUser(ctx context.Context) (models.AdminUser, bool, error) {
	var sess models.Session
	ok, err := s.ns.Load(ctx, sessionKey, &sess)
	if err != nil || !ok {
		return models.AdminUser{}, false, err
	}
	user, err := s.userByID(ctx, sess.UserID)
	if errors.Is(err, common.ErrUserNotFound) {
		return models.AdminUser{}, false, s.ns.Remove(ctx, sessionKey)
	}
	if err != nil {
		return models.AdminUser{}, false, err
	}
	return user, true, nil
}

// rememberUser upserts a server profile into the local set, matching on id
// then username. An empty hash keeps the stored one.
func (s *AuthService) rememberUser(ctx context.Context, u models.AdminUser, hash string) (models.AdminUser, error) {
	users, err := s.users(ctx)
	if err != nil {
		return models.AdminUser{}, err
	}
	i := slices.IndexFunc(users, func(x models.AdminUser) bool { return x.ID == u.ID })
	if i < 0 {
		i = slices.IndexFunc(users, func(x models.AdminUser) bool { return x.Username == u.Username })
	}
	if i < 0 {
		if u.CreatedAt.IsZero() {
			u.CreatedAt = s.clock.Now()
		}
		users = append(users, u)
		i = len(users) - 1
	} else {
		prev := users[i]
		if u.Email == "" {
			u.Email = prev.Email
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = prev.CreatedAt
		}
		u.PasswordHash = prev.PasswordHash
		users[i] = u
	}
	if hash != "" {
		users[i].PasswordHash = hash
	}
	if err := s.ns.Save(ctx, usersKey, users); err != nil {
		return models.AdminUser{}, err
	}
	return users[i], nil
}

func (s *AuthService) userByID(ctx context.Context, id string) (models.AdminUser, error) {
	users, err := s.users(ctx)
	if err != nil {
		return models.AdminUser{}, err
	}
	if i := slices.IndexFunc(users, func(u models.AdminUser) bool { return u.ID == id }); i >= 0 {
		return users[i], nil
	}
	return models.AdminUser{}, common.ErrUserNotFound
}

func (s *AuthService) users(ctx context.Context) ([]models.AdminUser, error) {
	var users []models.AdminUser
	if _, err := s.ns.Load(ctx, usersKey, &users); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

// tokenExpired reads the exp claim without verifying the signature; the
// server remains the judge of validity. Opaque tokens never expire locally.
func tokenExpired(tok string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}
