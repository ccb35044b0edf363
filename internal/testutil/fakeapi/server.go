// Package fakeapi is an in-memory stand-in for the portal REST API, served
// over httptest. It speaks the same wire format as the real server: snake_case
// JSON, numeric ids, JWT bearer tokens and 202 second-factor challenges.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

type object = map[string]any

type user struct {
	ID        int
	Username  string
	Email     string
	Password  string
	TwoFactor bool
}

type challenge struct {
	code    string
	expires time.Time
}

// Server is safe for concurrent use.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	secret       []byte
	nextID       int
	down         bool
	failures     map[string]int
	requests     map[string]int
	reissueCodes bool
	codeTTL      time.Duration

	declarations []object
	idempotent   map[string]object
	logs         []object
	users        []*user
	challenges   map[int]challenge
	protection   object
}

func New() *Server {
	s := &Server{
		secret:     []byte("fakeapi-secret"),
		nextID:     100,
		failures:   make(map[string]int),
		requests:   make(map[string]int),
		codeTTL:    5 * time.Minute,
		idempotent: make(map[string]object),
		challenges: make(map[int]challenge),
		protection: object{"ip_blacklist": ""},
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.control)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, object{"status": "ok"})
		})

		r.Post("/declarations/", s.createDeclaration)
		r.Get("/declarations/track/{code}/", s.trackDeclaration)
		r.Post("/declarations/{id}/messages/", s.postMessage)
		r.Post("/clues/", s.postTip)
		r.Post("/attachments/upload/", s.upload)
		r.Post("/activity-logs/", s.postLog)

		r.Post("/auth/register/", s.register)
		r.Post("/auth/login/", s.login)
		r.Post("/auth/verify-2fa/", s.verify)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/declarations/", s.listDeclarations)
			r.Patch("/declarations/{id}/", s.patchDeclaration)
			r.Get("/activity-logs/", s.listLogs)
			r.Get("/auth/me/", s.me)
			r.Patch("/users/{id}/", s.patchUser)
			r.Get("/admin/protection/", s.getProtection)
			r.Put("/admin/protection/", s.putProtection)
		})
	})
	return r
}

// SetDown makes every endpoint answer 503.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// Fail makes "METHOD /path" answer status until cleared with status 0.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, method+" "+path)
		return
	}
	s.failures[method+" "+path] = status
}

// ReissueCodes makes the server ignore client tracking codes.
func (s *Server) ReissueCodes(on bool) {
	s.mu.Lock()
	s.reissueCodes = on
	s.mu.Unlock()
}

// Requests counts calls to "METHOD /path".
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

// AddUser registers an account directly and returns its id.
func (s *Server) AddUser(username, email, password string, twoFactor bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprint(s.addUserLocked(username, email, password, twoFactor).ID)
}

// Code is the one-time code last issued to userID.
func (s *Server) Code(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.challenges {
		if fmt.Sprint(id) == userID {
			return c.code
		}
	}
	return ""
}

// ExpireChallenges moves every pending challenge into the past.
func (s *Server) ExpireChallenges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.challenges {
		c.expires = time.Now().Add(-time.Second)
		s.challenges[id] = c
	}
}

// Token mints a bearer token for userID valid for ttl (negative for an
// already expired token).
func (s *Server) Token(userID string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return tok
}

// Declarations returns a snapshot of the stored declarations.
func (s *Server) Declarations() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.declarations))
	for i, d := range s.declarations {
		out[i] = clone(d)
	}
	return out
}

func (s *Server) Logs() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.logs))
	for i, l := range s.logs {
		out[i] = clone(l)
	}
	return out
}

func (s *Server) control(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.requests[key]++
		down := s.down
		status := s.failures[key]
		s.mu.Unlock()

		if down {
			writeJSON(w, http.StatusServiceUnavailable, object{"detail": "Service indisponible"})
			return
		}
		if status != 0 {
			writeJSON(w, status, object{"detail": fmt.Sprintf("échec simulé %d", status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, object{"detail": "Authentification requise"})
			return
		}
		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			writeJSON(w, http.StatusUnauthorized, object{"detail": "Token invalide ou expiré"})
			return
		}
		r.Header.Set("X-User-ID", claims.Subject)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createDeclaration(w http.ResponseWriter, r *http.Request) {
	var body object
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Header.Get("Idempotency-Key")
	if prev, ok := s.idempotent[key]; ok && key != "" {
		writeJSON(w, http.StatusOK, object{"id": prev["id"], "tracking_code": prev["tracking_code"]})
		return
	}

	id := s.newID()
	d := clone(body)
	d["id"] = id
	code, _ := d["tracking_code"].(string)
	if code == "" || s.reissueCodes {
		code = fmt.Sprintf("SRVA-%04d-TG00", id)
	}
	d["tracking_code"] = code
	if img, ok := d["cover_image"].(object); ok {
		s.storeFile(img)
	}
	files, _ := d["attachments"].([]any)
	for _, f := range files {
		if a, ok := f.(object); ok {
			s.storeFile(a)
		}
	}
	if _, ok := d["created_at"].(string); !ok {
		d["created_at"] = now()
	}
	if _, ok := d["updated_at"].(string); !ok {
		d["updated_at"] = d["created_at"]
	}
	if _, ok := d["status_history"].([]any); !ok {
		d["status_history"] = []any{object{"status": "en_attente", "changed_by": "Système", "changed_at": d["created_at"], "comment": "Déclaration créée"}}
	}
	d["tips"] = []any{}
	d["messages"] = []any{}
	s.declarations = append(s.declarations, d)
	if key != "" {
		s.idempotent[key] = d
	}
	writeJSON(w, http.StatusCreated, object{"id": id, "tracking_code": code})
}

func (s *Server) listDeclarations(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, object{"count": len(s.declarations), "results": s.declarations})
}

func (s *Server) trackDeclaration(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := chi.URLParam(r, "code")
	for _, d := range s.declarations {
		if d["tracking_code"] == code {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, object{"detail": "Déclaration introuvable"})
}

func (s *Server) patchDeclaration(w http.ResponseWriter, r *http.Request) {
	var body object
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.declarationLocked(chi.URLParam(r, "id"))
	if d == nil {
		writeJSON(w, http.StatusNotFound, object{"detail": "Déclaration introuvable"})
		return
	}
	at := now()
	for _, k := range []string{"status", "priority", "validated_by", "assigned_to"} {
		if v, ok := body[k]; ok {
			d[k] = v
		}
	}
	d["updated_at"] = at
	changedBy, _ := body["validated_by"].(string)
	history, _ := d["status_history"].([]any)
	d["status_history"] = append(history, object{"status": body["status"], "changed_by": changedBy, "changed_at": at, "comment": body["comment"]})
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var body object
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.declarationLocked(chi.URLParam(r, "id"))
	if d == nil {
		writeJSON(w, http.StatusNotFound, object{"detail": "Déclaration introuvable"})
		return
	}
	m := object{
		"id":          s.newID(),
		"declaration": d["id"],
		"sender_id":   body["sender_id"],
		"sender_name": body["sender_name"],
		"sender_type": body["sender_type"],
		"content":     body["content"],
		"created_at":  body["created_at"],
		"is_read":     false,
	}
	messages, _ := d["messages"].([]any)
	d["messages"] = append(messages, m)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) postTip(w http.ResponseWriter, r *http.Request) {
	var body object
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.declarationLocked(fmt.Sprint(body["declaration"]))
	if d == nil {
		writeJSON(w, http.StatusBadRequest, object{"detail": "Déclaration inconnue"})
		return
	}
	t := object{
		"id":          s.newID(),
		"declaration": d["id"],
		"phone":       body["phone"],
		"description": body["description"],
		"created_at":  now(),
		"is_read":     false,
	}
	if img, ok := body["image"].(string); ok && img != "" {
		t["image"] = object{"id": img, "name": "image", "file": "/media/" + img}
	}
	tips, _ := d["tips"].([]any)
	d["tips"] = append(tips, t)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, object{"detail": err.Error()})
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, object{"detail": "Fichier requis"})
		return
	}
	defer f.Close()

	s.mu.Lock()
	id := s.newID()
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, object{
		"id":        id,
		"name":      hdr.Filename,
		"file":      fmt.Sprintf("/media/%d/%s", id, hdr.Filename),
		"mime_type": hdr.Header.Get("Content-Type"),
		"size":      hdr.Size,
	})
}

func (s *Server) postLog(w http.ResponseWriter, r *http.Request) {
	var body object
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Header.Get("Idempotency-Key")
	for _, l := range s.logs {
		if key != "" && l["id"] == key {
			writeJSON(w, http.StatusOK, l)
			return
		}
	}
	l := clone(body)
	if l["id"] == nil || l["id"] == "" {
		l["id"] = s.newID()
	}
	s.logs = append(s.logs, l)
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) listLogs(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.logs)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Enable2FA bool   `json:"enable_2fa"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == body.Username {
			writeJSON(w, http.StatusBadRequest, object{"detail": "Ce nom d'utilisateur existe déjà"})
			return
		}
		if strings.EqualFold(u.Email, body.Email) {
			writeJSON(w, http.StatusBadRequest, object{"email": []any{"Un compte avec cet e-mail existe déjà."}})
			return
		}
	}
	u := s.addUserLocked(body.Username, body.Email, body.Password, body.Enable2FA)
	writeJSON(w, http.StatusCreated, userJSON(u))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userByNameLocked(body.Username)
	if u == nil || u.Password != body.Password {
		writeJSON(w, http.StatusUnauthorized, object{"detail": "Identifiants invalides"})
		return
	}
	if u.TwoFactor {
		s.nextID++
		code := fmt.Sprintf("%06d", 100000+s.nextID%900000)
		s.challenges[u.ID] = challenge{code: code, expires: time.Now().Add(s.codeTTL)}
		writeJSON(w, http.StatusAccepted, object{"detail": object{
			"message":   "Code de vérification envoyé",
			"user_id":   u.ID,
			"demo_code": code,
		}})
		return
	}
	writeJSON(w, http.StatusOK, s.tokenResponse(u))
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var u *user
	for _, x := range s.users {
		if fmt.Sprint(x.ID) == r.URL.Query().Get("user_id") {
			u = x
		}
	}
	if u == nil {
		writeJSON(w, http.StatusBadRequest, object{"detail": "Aucune vérification en attente"})
		return
	}
	c, ok := s.challenges[u.ID]
	switch {
	case !ok:
		writeJSON(w, http.StatusBadRequest, object{"detail": "Aucune vérification en attente"})
	case time.Now().After(c.expires):
		delete(s.challenges, u.ID)
		writeJSON(w, http.StatusBadRequest, object{"detail": "Le code a expiré"})
	case c.code != body.Code:
		writeJSON(w, http.StatusUnauthorized, object{"detail": "Code incorrect"})
	default:
		delete(s.challenges, u.ID)
		writeJSON(w, http.StatusOK, s.tokenResponse(u))
	}
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if fmt.Sprint(u.ID) == r.Header.Get("X-User-ID") {
			writeJSON(w, http.StatusOK, userJSON(u))
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, object{"detail": "Utilisateur inconnu"})
}

func (s *Server) patchUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TwoFactor *bool `json:"two_factor_enabled"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if fmt.Sprint(u.ID) == chi.URLParam(r, "id") {
			if body.TwoFactor != nil {
				u.TwoFactor = *body.TwoFactor
			}
			writeJSON(w, http.StatusOK, userJSON(u))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, object{"detail": "Utilisateur non trouvé"})
}

func (s *Server) getProtection(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.protection)
}

func (s *Server) putProtection(w http.ResponseWriter, r *http.Request) {
	var body object
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	body["updated_at"] = now()
	s.protection = body
	writeJSON(w, http.StatusOK, s.protection)
}

func (s *Server) tokenResponse(u *user) object {
	return object{
		"access_token":  s.Token(fmt.Sprint(u.ID), time.Hour),
		"refresh_token": "refresh-" + u.Username,
		"token_type":    "bearer",
		"expires_in":    3600,
	}
}

func (s *Server) addUserLocked(username, email, password string, twoFactor bool) *user {
	u := &user{ID: s.newID(), Username: username, Email: email, Password: password, TwoFactor: twoFactor}
	s.users = append(s.users, u)
	return u
}

func (s *Server) userByNameLocked(name string) *user {
	for _, u := range s.users {
		if strings.EqualFold(u.Username, name) {
			return u
		}
	}
	return nil
}

func (s *Server) declarationLocked(id string) object {
	for _, d := range s.declarations {
		if fmt.Sprint(d["id"]) == id {
			return d
		}
	}
	return nil
}

// storeFile gives an inline attachment an id and a download URL.
func (s *Server) storeFile(a object) {
	id := s.newID()
	a["id"] = id
	a["file"] = fmt.Sprintf("/media/%d/%v", id, a["name"])
	delete(a, "data")
}

func (s *Server) newID() int {
	s.nextID++
	return s.nextID
}

func userJSON(u *user) object {
	return object{
		"id":                 u.ID,
		"username":           u.Username,
		"email":              u.Email,
		"two_factor_enabled": u.TwoFactor,
		"created_at":         "2024-01-01T00:00:00Z",
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, object{"detail": "JSON invalide"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// clone deep-copies a decoded JSON object.
func clone(o object) object {
	raw, _ := json.Marshal(o)
	var out object
	_ = json.Unmarshal(raw, &out)
	return out
}
