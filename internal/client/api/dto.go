package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/netx"
)

// flexID is an identifier the server may send as a string or a number.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id must be a string or a number: %w", err)
		}
		*id = flexID(n.String())
	}
	return nil
}

// flexTime accepts RFC 3339 timestamps, naive timestamps and plain dates.
type flexTime struct {
	time.Time
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised time %q", s)
}

// ref is a related object sent either as a bare id or embedded.
type ref struct {
	ID           flexID
	Username     string
	TrackingCode string
}

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		r.Username, r.TrackingCode = "", ""
		return r.ID.UnmarshalJSON(b)
	}
	var obj struct {
		ID           flexID `json:"id"`
		Username     string `json:"username"`
		TrackingCode string `json:"tracking_code"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = ref{ID: obj.ID, Username: obj.Username, TrackingCode: obj.TrackingCode}
	return nil
}

// display is the best human name of the reference.
func (r ref) display() string {
	if r.Username != "" {
		return r.Username
	}
	return string(r.ID)
}

// flexText is free text the server may send as a string or a JSON object.
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = flexText(s)
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, b); err != nil {
			return err
		}
		*t = flexText(buf.String())
	}
	return nil
}

type attachmentDTO struct {
	ID       flexID `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	File     string `json:"file"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

func (a attachmentDTO) toModel() models.Attachment {
	return models.Attachment{
		ID:   string(a.ID),
		Name: a.Name,
		Data: a.Data,
		Type: a.MimeType,
		URL:  a.File,
		Size: a.Size,
	}
}

type attachmentUploadDTO struct {
	Name     string `json:"name"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

func attachmentsToUpload(in []models.Attachment) []attachmentUploadDTO {
	out := make([]attachmentUploadDTO, 0, len(in))
	for _, a := range in {
		if a.Data == "" {
			continue
		}
		out = append(out, attachmentUploadDTO{Name: a.Name, Data: a.Data, MimeType: a.Type})
	}
	return out
}

type statusChangeDTO struct {
	Status    string   `json:"status" validate:"required,oneof=en_attente validee rejetee en_cours resolue classee"`
	ChangedBy string   `json:"changed_by"`
	ChangedAt flexTime `json:"changed_at"`
	Comment   string   `json:"comment,omitempty"`
}

type tipDTO struct {
	ID          flexID          `json:"id" validate:"required"`
	Declaration ref             `json:"declaration"`
	Phone       string          `json:"phone"`
	Description string          `json:"description"`
	Image       *attachmentDTO  `json:"image"`
	Attachments []attachmentDTO `json:"attachments" validate:"dive"`
	CreatedAt   flexTime        `json:"created_at"`
	IsRead      bool            `json:"is_read"`
	IsVerified  bool            `json:"is_verified"`
}

func (t tipDTO) toModel(declarationID string) models.Tip {
	tip := models.Tip{
		ID:            string(t.ID),
		DeclarationID: string(t.Declaration.ID),
		TipsterPhone:  t.Phone,
		Description:   t.Description,
		Attachments:   make([]models.Attachment, 0, len(t.Attachments)+1),
		CreatedAt:     t.CreatedAt.Time,
		IsRead:        t.IsRead || t.IsVerified,
	}
	if tip.DeclarationID == "" {
		tip.DeclarationID = declarationID
	}
	if t.Image != nil {
		tip.Attachments = append(tip.Attachments, t.Image.toModel())
	}
	for _, a := range t.Attachments {
		tip.Attachments = append(tip.Attachments, a.toModel())
	}
	return tip
}

type tipCreateDTO struct {
	Declaration string  `json:"declaration"`
	Phone       string  `json:"phone"`
	Description string  `json:"description"`
	Image       *string `json:"image"`
}

type messageDTO struct {
	ID          flexID   `json:"id" validate:"required"`
	Declaration ref      `json:"declaration"`
	SenderID    flexID   `json:"sender_id"`
	SenderName  string   `json:"sender_name"`
	SenderType  string   `json:"sender_type" validate:"required,oneof=admin declarant"`
	Content     string   `json:"content"`
	CreatedAt   flexTime `json:"created_at"`
	IsRead      bool     `json:"is_read"`
}

func (m messageDTO) toModel(declarationID string) models.Message {
	id := string(m.Declaration.ID)
	if id == "" {
		id = declarationID
	}
	return models.Message{
		ID:            string(m.ID),
		DeclarationID: id,
		SenderID:      string(m.SenderID),
		SenderName:    m.SenderName,
		SenderType:    models.SenderType(m.SenderType),
		Content:       m.Content,
		CreatedAt:     m.CreatedAt.Time,
		IsRead:        m.IsRead,
	}
}

type messageCreateDTO struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	SenderType string `json:"sender_type"`
	Content    string `json:"content"`
	CreatedAt  string `json:"created_at"`
}

type declarationDTO struct {
	ID             flexID            `json:"id" validate:"required"`
	TrackingCode   string            `json:"tracking_code" validate:"required"`
	IdempotencyKey string            `json:"idempotency_key"`
	DeclarantName  string            `json:"declarant_name"`
	Phone          string            `json:"phone"`
	Email          *string           `json:"email"`
	Type           string            `json:"type" validate:"required,oneof=plainte perte"`
	Category       string            `json:"category"`
	Description    string            `json:"description"`
	IncidentDate   flexTime          `json:"incident_date"`
	Location       string            `json:"location"`
	Reward         *string           `json:"reward"`
	CoverImage     *attachmentDTO    `json:"cover_image"`
	Attachments    []attachmentDTO   `json:"attachments" validate:"dive"`
	Status         string            `json:"status" validate:"required,oneof=en_attente validee rejetee en_cours resolue classee"`
	Priority       *string           `json:"priority" validate:"omitempty,oneof=faible moyenne importante urgente"`
	CreatedAt      flexTime          `json:"created_at"`
	UpdatedAt      flexTime          `json:"updated_at"`
	ValidatedBy    ref               `json:"validated_by"`
	AssignedTo     ref               `json:"assigned_to"`
	BrowserInfo    *string           `json:"browser_info"`
	DeviceType     *string           `json:"device_type"`
	DeviceModel    *string           `json:"device_model"`
	IPAddress      *string           `json:"ip_address"`
	StatusHistory  []statusChangeDTO `json:"status_history" validate:"dive"`
	Tips           []tipDTO          `json:"tips" validate:"dive"`
	Messages       []messageDTO      `json:"messages" validate:"dive"`
}

func (d declarationDTO) toModel() models.Declaration {
	out := models.Declaration{
		ID:             string(d.ID),
		TrackingCode:   d.TrackingCode,
		IdempotencyKey: d.IdempotencyKey,
		DeclarantName:  d.DeclarantName,
		Phone:          d.Phone,
		Email:          deref(d.Email),
		Type:           models.DeclarationType(d.Type),
		Category:       d.Category,
		Description:    d.Description,
		IncidentDate:   d.IncidentDate.Time,
		Location:       d.Location,
		Reward:         deref(d.Reward),
		Attachments:    make([]models.Attachment, 0, len(d.Attachments)),
		Status:         models.Status(d.Status),
		Priority:       models.Priority(deref(d.Priority)),
		CreatedAt:      d.CreatedAt.Time,
		UpdatedAt:      d.UpdatedAt.Time,
		ValidatedBy:    d.ValidatedBy.display(),
		AssignedTo:     d.AssignedTo.display(),
		BrowserInfo:    deref(d.BrowserInfo),
		DeviceType:     deref(d.DeviceType),
		DeviceModel:    deref(d.DeviceModel),
		IPAddress:      deref(d.IPAddress),
		StatusHistory:  make([]models.StatusChange, 0, len(d.StatusHistory)),
		Tips:           make([]models.Tip, 0, len(d.Tips)),
		Messages:       make([]models.Message, 0, len(d.Messages)),
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	if d.CoverImage != nil {
		img := d.CoverImage.toModel()
		out.CoverImage = &img
	}
	for _, a := range d.Attachments {
		out.Attachments = append(out.Attachments, a.toModel())
	}
	for _, h := range d.StatusHistory {
		out.StatusHistory = append(out.StatusHistory, models.StatusChange{
			Status:    models.Status(h.Status),
			ChangedBy: h.ChangedBy,
			ChangedAt: h.ChangedAt.Time,
			Comment:   h.Comment,
		})
	}
	for _, t := range d.Tips {
		out.Tips = append(out.Tips, t.toModel(out.ID))
	}
	for _, m := range d.Messages {
		out.Messages = append(out.Messages, m.toModel(out.ID))
	}
	return out
}

type declarationCreateDTO struct {
	ID             string                `json:"id"`
	TrackingCode   string                `json:"tracking_code"`
	IdempotencyKey string                `json:"idempotency_key"`
	DeclarantName  string                `json:"declarant_name"`
	Phone          string                `json:"phone"`
	Email          *string               `json:"email"`
	Type           string                `json:"type"`
	Category       string                `json:"category"`
	Description    string                `json:"description"`
	IncidentDate   *string               `json:"incident_date"`
	Location       string                `json:"location"`
	Reward         *string               `json:"reward"`
	Status         string                `json:"status"`
	Priority       *string               `json:"priority"`
	BrowserInfo    *string               `json:"browser_info"`
	DeviceType     *string               `json:"device_type"`
	DeviceModel    *string               `json:"device_model"`
	IPAddress      *string               `json:"ip_address"`
	CoverImage     *attachmentUploadDTO  `json:"cover_image,omitempty"`
	Attachments    []attachmentUploadDTO `json:"attachments"`
	CreatedAt      string                `json:"created_at"`
	UpdatedAt      string                `json:"updated_at"`
	StatusHistory  []statusChangeDTO     `json:"status_history"`
}

// declarationToCreate drops an IP address that does not parse; the server
// rejects anything but a valid address.
func declarationToCreate(d models.Declaration) declarationCreateDTO {
	out := declarationCreateDTO{
		ID:             d.ID,
		TrackingCode:   d.TrackingCode,
		IdempotencyKey: d.IdempotencyKey,
		DeclarantName:  d.DeclarantName,
		Phone:          d.Phone,
		Email:          optional(d.Email),
		Type:           string(d.Type),
		Category:       d.Category,
		Description:    d.Description,
		Location:       d.Location,
		Reward:         optional(d.Reward),
		Status:         string(d.Status),
		Priority:       optional(string(d.Priority)),
		BrowserInfo:    optional(d.BrowserInfo),
		DeviceType:     optional(d.DeviceType),
		DeviceModel:    optional(d.DeviceModel),
		IPAddress:      optional(netx.NormalizeIP(d.IPAddress)),
		Attachments:    attachmentsToUpload(d.Attachments),
		CreatedAt:      d.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	// The local history travels along so a server that keeps it shows the
	// same ledger the citizen saw offline.
	out.StatusHistory = make([]statusChangeDTO, 0, len(d.StatusHistory))
	for _, h := range d.StatusHistory {
		out.StatusHistory = append(out.StatusHistory, statusChangeDTO{
			Status:    string(h.Status),
			ChangedBy: h.ChangedBy,
			ChangedAt: flexTime{h.ChangedAt.UTC()},
			Comment:   h.Comment,
		})
	}
	if !d.IncidentDate.IsZero() {
		s := d.IncidentDate.UTC().Format(time.RFC3339Nano)
		out.IncidentDate = &s
	}
	if d.CoverImage != nil && d.CoverImage.Data != "" {
		out.CoverImage = &attachmentUploadDTO{Name: d.CoverImage.Name, Data: d.CoverImage.Data, MimeType: d.CoverImage.Type}
	}
	return out
}

type declarationCreatedDTO struct {
	ID           flexID `json:"id" validate:"required"`
	TrackingCode string `json:"tracking_code" validate:"required"`
}

type statusPatchDTO struct {
	Status      string  `json:"status"`
	Priority    *string `json:"priority"`
	ValidatedBy *string `json:"validated_by,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Comment     *string `json:"comment,omitempty"`
}

type activityLogDTO struct {
	ID              flexID         `json:"id" validate:"required"`
	Timestamp       flexTime       `json:"timestamp"`
	User            ref            `json:"user"`
	UserID          flexID         `json:"user_id"`
	Username        string         `json:"username"`
	Action          string         `json:"action" validate:"required"`
	Details         flexText       `json:"details"`
	Declaration     ref            `json:"declaration"`
	DeclarationCode string         `json:"declaration_code"`
	Metadata        map[string]any `json:"metadata"`
}

func (l activityLogDTO) toModel() (models.ActivityLog, error) {
	action := models.Action(l.Action)
	if !action.Valid() {
		return models.ActivityLog{}, fmt.Errorf("%w: unknown action %q", ErrInvalidResponse, l.Action)
	}
	if l.Timestamp.IsZero() {
		return models.ActivityLog{}, fmt.Errorf("%w: activity log %s without timestamp", ErrInvalidResponse, l.ID)
	}
	userID := string(l.UserID)
	if userID == "" {
		userID = string(l.User.ID)
	}
	username := l.Username
	if username == "" {
		username = l.User.Username
	}
	code := l.DeclarationCode
	if code == "" {
		code = l.Declaration.TrackingCode
	}
	var md map[string]string
	if len(l.Metadata) > 0 {
		md = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			md[k] = fmt.Sprint(v)
		}
	}
	return models.ActivityLog{
		ID:              string(l.ID),
		Timestamp:       l.Timestamp.Time,
		UserID:          userID,
		Username:        username,
		Action:          action,
		Label:           action.Label(),
		Details:         string(l.Details),
		DeclarationID:   string(l.Declaration.ID),
		DeclarationCode: code,
		Metadata:        md,
	}, nil
}

type activityLogCreateDTO struct {
	ID              string            `json:"id"`
	Timestamp       string            `json:"timestamp"`
	UserID          string            `json:"user_id"`
	Username        string            `json:"username"`
	Action          string            `json:"action"`
	Details         string            `json:"details"`
	Declaration     *string           `json:"declaration"`
	DeclarationCode string            `json:"declaration_code,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type userDTO struct {
	ID               flexID   `json:"id" validate:"required"`
	Username         string   `json:"username" validate:"required"`
	Email            string   `json:"email"`
	TwoFactorEnabled bool     `json:"two_factor_enabled"`
	CreatedAt        flexTime `json:"created_at"`
}

func (u userDTO) toModel() models.AdminUser {
	return models.AdminUser{
		ID:               string(u.ID),
		Username:         strings.ToLower(u.Username),
		Email:            u.Email,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt.Time,
	}
}

type registerDTO struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Enable2FA bool   `json:"enable_2fa"`
}

type loginDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponseDTO covers both token shapes (access_token and access) and the
// 202 challenge, whose body is {"detail": {"user_id": ...}}.
type loginResponseDTO struct {
	AccessToken string `json:"access_token"`
	Access      string `json:"access"`
	Detail      *struct {
		UserID  flexID `json:"user_id"`
		Message string `json:"message"`
	} `json:"detail"`
}

func (t loginResponseDTO) token() string {
	if t.AccessToken != "" {
		return t.AccessToken
	}
	return t.Access
}

type verifyDTO struct {
	Code string `json:"code"`
}

type twoFactorPatchDTO struct {
	TwoFactorEnabled bool `json:"two_factor_enabled"`
}

type protectionDTO struct {
	EnableRateLimitDeclarations bool      `json:"enable_rate_limit_declarations"`
	RateLimitDeclarations       string    `json:"rate_limit_declarations"`
	EnableCaptchaDeclarations   bool      `json:"enable_captcha_declarations"`
	EnableRateLimitAttachments  bool      `json:"enable_rate_limit_attachments"`
	EnableCaptchaClues          bool      `json:"enable_captcha_clues"`
	IPBlacklist                 string    `json:"ip_blacklist"`
	UpdatedAt                   *flexTime `json:"updated_at,omitempty"`
}

func (p protectionDTO) toModel() models.ProtectionSettings {
	var ips []string
	for _, f := range strings.FieldsFunc(p.IPBlacklist, func(r rune) bool { return r == ',' || r == '\n' || r == ' ' }) {
		if ip := netx.NormalizeIP(f); ip != "" {
			ips = append(ips, ip)
		}
	}
	var updated time.Time
	if p.UpdatedAt != nil {
		updated = p.UpdatedAt.Time
	}
	return models.ProtectionSettings{
		RateLimitDeclarations:      p.EnableRateLimitDeclarations,
		RateLimitDeclarationsValue: p.RateLimitDeclarations,
		CaptchaDeclarations:        p.EnableCaptchaDeclarations,
		RateLimitAttachments:       p.EnableRateLimitAttachments,
		CaptchaClues:               p.EnableCaptchaClues,
		IPBlacklist:                ips,
		UpdatedAt:                  updated,
	}
}

func protectionFromModel(s models.ProtectionSettings) protectionDTO {
	return protectionDTO{
		EnableRateLimitDeclarations: s.RateLimitDeclarations,
		RateLimitDeclarations:       s.RateLimitDeclarationsValue,
		EnableCaptchaDeclarations:   s.CaptchaDeclarations,
		EnableRateLimitAttachments:  s.RateLimitAttachments,
		EnableCaptchaClues:          s.CaptchaClues,
		IPBlacklist:                 strings.Join(s.IPBlacklist, ","),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
