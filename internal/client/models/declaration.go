package models

import (
	"slices"
	"time"
)

type DeclarationType string

const (
	TypeComplaint  DeclarationType = "plainte"
	TypeLossReport DeclarationType = "perte"
)

type Status string

const (
	StatusPending    Status = "en_attente"
	StatusValidated  Status = "validee"
	StatusRejected   Status = "rejetee"
	StatusInProgress Status = "en_cours"
	StatusResolved   Status = "resolue"
	StatusArchived   Status = "classee"
)

var statusLabels = map[Status]string{
	StatusPending:    "En attente",
	StatusValidated:  "Validée",
	StatusRejected:   "Rejetée",
	StatusInProgress: "En cours de traitement",
	StatusResolved:   "Résolue",
	StatusArchived:   "Classée sans suite",
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label is the human-readable form shown to citizens and staff.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Priority is optional; the zero value means unset.
type Priority string

const (
	PriorityUnset     Priority = ""
	PriorityLow       Priority = "faible"
	PriorityMedium    Priority = "moyenne"
	PriorityImportant Priority = "importante"
	PriorityUrgent    Priority = "urgente"
)

// Rank orders priorities for triage. Unset ranks below every explicit value.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityImportant:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

func (p Priority) Valid() bool {
	return p == PriorityUnset || p.Rank() > 0
}

type SenderType string

const (
	SenderAdmin     SenderType = "admin"
	SenderDeclarant SenderType = "declarant"
)

// Attachment is a file stored inline; Data is base64. Attachments known only
// from the server carry a URL instead of Data.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required,max=255"`
	Data string `json:"data,omitempty" validate:"required_without=URL,omitempty,base64"`
	Type string `json:"type" validate:"required"`
	URL  string `json:"url,omitempty"`
	Size int    `json:"size,omitempty"`
}

// StatusChange is one entry of the append-only workflow ledger.
type StatusChange struct {
	Status    Status    `json:"status"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
	Comment   string    `json:"comment,omitempty"`
}

type Tip struct {
	ID            string       `json:"id"`
	DeclarationID string       `json:"declarationId"`
	TipsterPhone  string       `json:"tipsterPhone"`
	Description   string       `json:"description"`
	Attachments   []Attachment `json:"attachments"`
	CreatedAt     time.Time    `json:"createdAt"`
	IsRead        bool         `json:"isRead"`
}

// Message is a thread entry. IsRead tracks whether the other party saw it.
type Message struct {
	ID            string     `json:"id"`
	DeclarationID string     `json:"declarationId"`
	SenderID      string     `json:"senderId"`
	SenderName    string     `json:"senderName"`
	SenderType    SenderType `json:"senderType"`
	Content       string     `json:"content"`
	CreatedAt     time.Time  `json:"createdAt"`
	IsRead        bool       `json:"isRead"`
}

type Declaration struct {
	ID           string `json:"id"`
	TrackingCode string `json:"trackingCode"`
	// IdempotencyKey is the provisional id assigned at creation. It survives
	// reconciliation so replays of the same record can be deduplicated.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	DeclarantName string          `json:"declarantName"`
	Phone         string          `json:"phone"`
	Email         string          `json:"email,omitempty"`
	Type          DeclarationType `json:"type"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	IncidentDate  time.Time       `json:"incidentDate"`
	Location      string          `json:"location"`
	Reward        string          `json:"reward,omitempty"`
	CoverImage    *Attachment     `json:"coverImage,omitempty"`
	Attachments   []Attachment    `json:"attachments"`

	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ValidatedBy string    `json:"validatedBy,omitempty"`
	AssignedTo  string    `json:"assignedTo,omitempty"`

	BrowserInfo string `json:"browserInfo,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
	DeviceModel string `json:"deviceModel,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`

	StatusHistory []StatusChange `json:"statusHistory"`
	Tips          []Tip          `json:"tips"`
	Messages      []Message      `json:"messages"`
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (d Declaration) Clone() Declaration {
	c := d
	if d.CoverImage != nil {
		img := *d.CoverImage
		c.CoverImage = &img
	}
	c.Attachments = slices.Clone(d.Attachments)
	c.StatusHistory = slices.Clone(d.StatusHistory)
	c.Messages = slices.Clone(d.Messages)
	if d.Tips != nil {
		c.Tips = make([]Tip, len(d.Tips))
		for i, t := range d.Tips {
			t.Attachments = slices.Clone(t.Attachments)
			c.Tips[i] = t
		}
	}
	return c
}

func (d Declaration) UnreadTips() int {
	n := 0
	for _, t := range d.Tips {
		if !t.IsRead {
			n++
		}
	}
	return n
}

// UnreadMessagesFor counts unread messages authored by the party opposite to
// reader.
func (d Declaration) UnreadMessagesFor(reader SenderType) int {
	n := 0
	for _, m := range d.Messages {
		if !m.IsRead && m.SenderType != reader {
			n++
		}
	}
	return n
}

// DeclarationInput is what a citizen submits. Identity, workflow and
// timestamps are assigned by the store.
type DeclarationInput struct {
	DeclarantName string          `json:"declarantName" validate:"required,max=200"`
	Phone         string          `json:"phone" validate:"required,tgphone"`
	Email         string          `json:"email" validate:"omitempty,email"`
	Type          DeclarationType `json:"type" validate:"required,oneof=plainte perte"`
	Category      string          `json:"category" validate:"required,max=100"`
	Description   string          `json:"description" validate:"required,min=10,max=5000"`
	IncidentDate  time.Time       `json:"incidentDate"`
	Location      string          `json:"location" validate:"max=500"`
	Reward        string          `json:"reward" validate:"max=100"`
	CoverImage    *Attachment     `json:"coverImage" validate:"omitempty"`
	Attachments   []Attachment    `json:"attachments" validate:"dive"`

	BrowserInfo string `json:"browserInfo"`
	DeviceType  string `json:"deviceType"`
	DeviceModel string `json:"deviceModel"`
	IPAddress   string `json:"ipAddress"`
}

// Normalize trims user input ahead of validation.
func (in *DeclarationInput) Normalize() {
	in.DeclarantName = trim(in.DeclarantName)
	in.Phone = NormalizePhone(in.Phone)
	in.Email = trim(in.Email)
	in.Category = trim(in.Category)
	in.Description = trim(in.Description)
	in.Location = trim(in.Location)
	in.Reward = trim(in.Reward)
}

type TipInput struct {
	TipsterPhone string       `json:"tipsterPhone" validate:"required,tgphone"`
	Description  string       `json:"description" validate:"required,min=10,max=5000"`
	Attachments  []Attachment `json:"attachments" validate:"dive"`
}

func (in *TipInput) Normalize() {
	in.TipsterPhone = NormalizePhone(in.TipsterPhone)
	in.Description = trim(in.Description)
}

type MessageInput struct {
	SenderID   string     `json:"senderId"`
	SenderName string     `json:"senderName" validate:"required,max=200"`
	SenderType SenderType `json:"senderType" validate:"required,oneof=admin declarant"`
	Content    string     `json:"content" validate:"required,max=5000"`
}

func (in *MessageInput) Normalize() {
	in.SenderName = trim(in.SenderName)
	in.Content = trim(in.Content)
}
