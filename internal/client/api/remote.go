package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/filex"
)

// Remote maps the portal endpoints onto domain models. Every response is
// decoded into an explicit DTO and validated; anything that does not fit is
// rejected with ErrInvalidResponse.
type Remote struct {
	c *Client
}

func NewRemote(c *Client) *Remote {
	return &Remote{c: c}
}

func (r *Remote) Ping(ctx context.Context) error {
	return r.c.Get(ctx, "/api/health/", nil)
}

func (r *Remote) ListDeclarations(ctx context.Context) ([]models.Declaration, error) {
	var raw json.RawMessage
	if err := r.c.Get(ctx, "/api/declarations/", &raw); err != nil {
		return nil, err
	}
	dtos, err := decodeList[declarationDTO](raw)
	if err != nil {
		return nil, err
	}
	out := make([]models.Declaration, 0, len(dtos))
	for _, d := range dtos {
		if err := checkDeclaration(d); err != nil {
			return nil, err
		}
		out = append(out, d.toModel())
	}
	return out, nil
}

// TrackDeclaration looks a declaration up by tracking code without
// authentication.
func (r *Remote) TrackDeclaration(ctx context.Context, code string) (models.Declaration, error) {
	var dto declarationDTO
	if err := r.c.Get(ctx, "/api/declarations/track/"+url.PathEscape(code)+"/", &dto); err != nil {
		return models.Declaration{}, err
	}
	if err := checkDeclaration(dto); err != nil {
		return models.Declaration{}, err
	}
	return dto.toModel(), nil
}

// Created is the server identity assigned to a new declaration.
type Created struct {
	ID           string
	TrackingCode string
}

func (r *Remote) CreateDeclaration(ctx context.Context, d models.Declaration) (Created, error) {
	var dto declarationCreatedDTO
	err := r.c.Post(ctx, "/api/declarations/", declarationToCreate(d), &dto, WithIdempotencyKey(idempotencyKey(d)))
	if err != nil {
		return Created{}, err
	}
	if err := validateDTO(dto); err != nil {
		return Created{}, err
	}
	return Created{ID: string(dto.ID), TrackingCode: dto.TrackingCode}, nil
}

func idempotencyKey(d models.Declaration) string {
	if d.IdempotencyKey != "" {
		return d.IdempotencyKey
	}
	return d.ID
}

// StatusPatch is a workflow change sent to the server. Empty optional fields
// are left out of the request.
type StatusPatch struct {
	Status      models.Status
	Priority    models.Priority
	ValidatedBy string
	AssignedTo  string
	Comment     string
}

func (r *Remote) UpdateDeclaration(ctx context.Context, id string, p StatusPatch) error {
	body := statusPatchDTO{
		Status:      string(p.Status),
		Priority:    optional(string(p.Priority)),
		ValidatedBy: optional(p.ValidatedBy),
		AssignedTo:  optional(p.AssignedTo),
		Comment:     optional(p.Comment),
	}
	// The echoed declaration is ignored; the next refetch reconciles it.
	return r.c.Patch(ctx, "/api/declarations/"+url.PathEscape(id)+"/", body, nil)
}

func (r *Remote) PostMessage(ctx context.Context, m models.Message) (models.Message, error) {
	body := messageCreateDTO{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderType: string(m.SenderType),
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	var dto messageDTO
	path := "/api/declarations/" + url.PathEscape(m.DeclarationID) + "/messages/"
	if err := r.c.Post(ctx, path, body, &dto, WithIdempotencyKey(m.ID)); err != nil {
		return models.Message{}, err
	}
	if err := validateDTO(dto); err != nil {
		return models.Message{}, err
	}
	return dto.toModel(m.DeclarationID), nil
}

// UploadAttachment sends one inline attachment and returns the server copy,
// which references the file by URL.
func (r *Remote) UploadAttachment(ctx context.Context, a models.Attachment) (models.Attachment, error) {
	data, err := filex.Decode(a.Data)
	if err != nil {
		return models.Attachment{}, err
	}
	body := &Multipart{
		Fields: map[string]string{"name": a.Name},
		Files:  []FilePart{{Field: "file", Filename: a.Name, ContentType: a.Type, Data: data}},
	}
	var dto attachmentDTO
	if err := r.c.Post(ctx, "/api/attachments/upload/", body, &dto); err != nil {
		return models.Attachment{}, err
	}
	if err := validateDTO(dto); err != nil {
		return models.Attachment{}, err
	}
	out := dto.toModel()
	if out.Type == "" {
		out.Type = a.Type
	}
	if out.Size == 0 {
		out.Size = len(data)
	}
	return out, nil
}

// PostTip submits a tip. imageID references an attachment uploaded
// beforehand, or is empty.
func (r *Remote) PostTip(ctx context.Context, t models.Tip, imageID string) (models.Tip, error) {
	body := tipCreateDTO{
		Declaration: t.DeclarationID,
		Phone:       t.TipsterPhone,
		Description: t.Description,
		Image:       optional(imageID),
	}
	var dto tipDTO
	if err := r.c.Post(ctx, "/api/clues/", body, &dto, WithIdempotencyKey(t.ID)); err != nil {
		return models.Tip{}, err
	}
	if err := validateDTO(dto); err != nil {
		return models.Tip{}, err
	}
	return dto.toModel(t.DeclarationID), nil
}

func (r *Remote) ListActivityLogs(ctx context.Context) ([]models.ActivityLog, error) {
	var raw json.RawMessage
	if err := r.c.Get(ctx, "/api/activity-logs/", &raw); err != nil {
		return nil, err
	}
	dtos, err := decodeList[activityLogDTO](raw)
	if err != nil {
		return nil, err
	}
	out := make([]models.ActivityLog, 0, len(dtos))
	for _, d := range dtos {
		l, err := d.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *Remote) PostActivityLog(ctx context.Context, l models.ActivityLog) error {
	body := activityLogCreateDTO{
		ID:              l.ID,
		Timestamp:       l.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:          l.UserID,
		Username:        l.Username,
		Action:          string(l.Action),
		Details:         l.Details,
		Declaration:     optional(l.DeclarationID),
		DeclarationCode: l.DeclarationCode,
		Metadata:        l.Metadata,
	}
	return r.c.Post(ctx, "/api/activity-logs/", body, nil, WithIdempotencyKey(l.ID))
}

func (r *Remote) Register(ctx context.Context, reg models.Registration) (models.AdminUser, error) {
	body := registerDTO{Username: reg.Username, Email: reg.Email, Password: reg.Password, Enable2FA: reg.Enable2FA}
	var dto userDTO
	if err := r.c.Post(ctx, "/api/auth/register/", body, &dto); err != nil {
		return models.AdminUser{}, err
	}
	if err := validateDTO(dto); err != nil {
		return models.AdminUser{}, err
	}
	return dto.toModel(), nil
}

// LoginResult holds either a token or, when the server asks for a second
// factor, the id of the user the challenge was issued for.
type LoginResult struct {
	Token           string
	ChallengeUserID string
}

func (l LoginResult) ChallengeRequired() bool { return l.Token == "" && l.ChallengeUserID != "" }

func (r *Remote) Login(ctx context.Context, c models.Credentials) (LoginResult, error) {
	var dto loginResponseDTO
	if err := r.c.Post(ctx, "/api/auth/login/", loginDTO{Username: c.Username, Password: c.Password}, &dto); err != nil {
		return LoginResult{}, err
	}
	if tok := dto.token(); tok != "" {
		return LoginResult{Token: tok}, nil
	}
	if dto.Detail != nil && dto.Detail.UserID != "" {
		return LoginResult{ChallengeUserID: string(dto.Detail.UserID)}, nil
	}
	return LoginResult{}, fmt.Errorf("%w: login answer without token or challenge", ErrInvalidResponse)
}

// Verify2FA answers a server-issued challenge and returns the access token.
// The server answers 400 when no challenge is pending or it expired, and 401
// for a wrong code.
func (r *Remote) Verify2FA(ctx context.Context, userID, code string) (string, error) {
	var dto loginResponseDTO
	path := "/api/auth/verify-2fa/?" + url.Values{"user_id": {userID}}.Encode()
	if err := r.c.Post(ctx, path, verifyDTO{Code: code}, &dto); err != nil {
		return "", err
	}
	tok := dto.token()
	if tok == "" {
		return "", fmt.Errorf("%w: verification answer without token", ErrInvalidResponse)
	}
	return tok, nil
}

func (r *Remote) Me(ctx context.Context) (models.AdminUser, error) {
	var dto userDTO
	if err := r.c.Get(ctx, "/api/auth/me/", &dto); err != nil {
		return models.AdminUser{}, err
	}
	if err := validateDTO(dto); err != nil {
		return models.AdminUser{}, err
	}
	return dto.toModel(), nil
}

func (r *Remote) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	return r.c.Patch(ctx, "/api/users/"+url.PathEscape(userID)+"/", twoFactorPatchDTO{TwoFactorEnabled: enabled}, nil)
}

func (r *Remote) ProtectionSettings(ctx context.Context) (models.ProtectionSettings, error) {
	var dto protectionDTO
	if err := r.c.Get(ctx, "/api/admin/protection/", &dto); err != nil {
		return models.ProtectionSettings{}, err
	}
	return dto.toModel(), nil
}

func (r *Remote) UpdateProtectionSettings(ctx context.Context, s models.ProtectionSettings) (models.ProtectionSettings, error) {
	var dto protectionDTO
	if err := r.c.Do(ctx, http.MethodPut, "/api/admin/protection/", protectionFromModel(s), &dto); err != nil {
		return models.ProtectionSettings{}, err
	}
	return dto.toModel(), nil
}

// decodeList accepts a bare JSON array or a paginated {"results": [...]}
// envelope.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: empty list body", ErrInvalidResponse)
	}
	var list []T
	if raw[0] == '{' {
		var env struct {
			Results *[]T `json:"results"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if env.Results == nil {
			return nil, fmt.Errorf("%w: object without results", ErrInvalidResponse)
		}
		list = *env.Results
	} else if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	for i := range list {
		if err := validateDTO(list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func validateDTO(v any) error {
	if err := models.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func checkDeclaration(d declarationDTO) error {
	if d.CreatedAt.IsZero() {
		return fmt.Errorf("%w: declaration %s without created_at", ErrInvalidResponse, d.ID)
	}
	for _, h := range d.StatusHistory {
		if h.ChangedAt.IsZero() {
			return fmt.Errorf("%w: declaration %s history entry without changed_at", ErrInvalidResponse, d.ID)
		}
	}
	return nil
}
