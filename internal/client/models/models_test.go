package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/declaro/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() DeclarationInput {
	return DeclarationInput{
		DeclarantName: "Kossi Mensah",
		Phone:         "+228 90 12 34 56",
		Type:          TypeLossReport,
		Category:      "Téléphone",
		Description:   "Perdu au marché de Lomé.",
		IncidentDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Location:      "Lomé",
	}
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected *ValidationError, got %v", err)
	require.ErrorIs(t, err, common.ErrValidation)
	return ve.Fields
}

func TestDeclarationInput_Valid(t *testing.T) {
	in := validInput()
	in.Normalize()
	assert.Equal(t, "+22890123456", in.Phone)
	assert.NoError(t, Validate(in))
}

func TestDeclarationInput_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*DeclarationInput)
		field string
	}{
		{"bad phone prefix", func(in *DeclarationInput) { in.Phone = "+33612345678" }, "phone"},
		{"short phone", func(in *DeclarationInput) { in.Phone = "+2289012345" }, "phone"},
		{"missing name", func(in *DeclarationInput) { in.DeclarantName = "" }, "declarantName"},
		{"unknown type", func(in *DeclarationInput) { in.Type = "vol" }, "type"},
		{"ten rune description accepted", func(in *DeclarationInput) { in.Description = "trop court" }, ""},
		{"long description", func(in *DeclarationInput) { in.Description = strings.Repeat("é", 5001) }, "description"},
		{"bad email", func(in *DeclarationInput) { in.Email = "nope" }, "email"},
		{"bad attachment", func(in *DeclarationInput) {
			in.Attachments = []Attachment{{Name: "a.png", Data: "***", Type: "image/png"}}
		}, "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.edit(&in)
			in.Normalize()
			err := Validate(in)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			assert.Contains(t, fieldsOf(t, err), tt.field)
		})
	}
}

func TestDescriptionBoundary(t *testing.T) {
	in := validInput()
	in.Description = "123456789"
	assert.Contains(t, fieldsOf(t, Validate(in)), "description")

	in.Description = strings.Repeat("é", 5000)
	assert.NoError(t, Validate(in))
}

func TestTipAndMessageInput(t *testing.T) {
	tip := TipInput{TipsterPhone: "+228 91 00 00 00", Description: "Vu près du port hier soir"}
	tip.Normalize()
	assert.NoError(t, Validate(tip))

	tip.Description = "court"
	assert.Contains(t, fieldsOf(t, Validate(tip)), "description")

	msg := MessageInput{SenderName: "admin1", SenderType: SenderAdmin, Content: "Bonjour"}
	assert.NoError(t, Validate(msg))

	msg.SenderType = "robot"
	assert.Contains(t, fieldsOf(t, Validate(msg)), "senderType")
}

func TestRegistration(t *testing.T) {
	r := Registration{Username: "  Admin_1 ", Email: "Admin@Example.TG ", Password: "Str0ng@Pass"}
	r.Normalize()
	assert.Equal(t, "admin_1", r.Username)
	assert.Equal(t, "admin@example.tg", r.Email)
	assert.NoError(t, Validate(r))

	weak := r
	weak.Password = "password1"
	assert.Contains(t, fieldsOf(t, Validate(weak)), "password")

	bad := r
	bad.Username = "ab"
	assert.Contains(t, fieldsOf(t, Validate(bad)), "username")
}

func TestStrongPassword(t *testing.T) {
	assert.True(t, StrongPassword("Aa1@aaaa"))
	assert.False(t, StrongPassword("Aa1@aaa"))
	assert.False(t, StrongPassword("aa1@aaaa"))
	assert.False(t, StrongPassword("AA1@AAAA"))
	assert.False(t, StrongPassword("Aaa@aaaa"))
	assert.False(t, StrongPassword("Aa1#aaaa"))
}

func TestValidateCode(t *testing.T) {
	assert.NoError(t, ValidateCode("012345"))
	assert.NoError(t, ValidateCode(" 012345 "))
	assert.Error(t, ValidateCode("12345"))
	assert.Error(t, ValidateCode("12a456"))
}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityUrgent.Rank(), PriorityImportant.Rank())
	assert.Greater(t, PriorityImportant.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Greater(t, PriorityLow.Rank(), PriorityUnset.Rank())
	assert.True(t, PriorityUnset.Valid())
	assert.False(t, Priority("haute").Valid())
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "En cours de traitement", StatusInProgress.Label())
	assert.Equal(t, "Classée sans suite", StatusArchived.Label())
	assert.False(t, Status("ouvert").Valid())
	assert.Equal(t, "ouvert", Status("ouvert").Label())
}

func TestActions(t *testing.T) {
	assert.Len(t, Actions(), 25)
	for _, a := range Actions() {
		assert.True(t, a.Valid())
		assert.NotEqual(t, string(a), a.Label())
	}
	assert.False(t, Action("hack").Valid())
}

func TestDeclaration_CloneIsDeep(t *testing.T) {
	d := Declaration{
		ID:            "d1",
		CoverImage:    &Attachment{Name: "c.png"},
		StatusHistory: []StatusChange{{Status: StatusPending}},
		Tips:          []Tip{{ID: "t1", Attachments: []Attachment{{Name: "a"}}}},
		Messages:      []Message{{ID: "m1"}},
	}
	c := d.Clone()
	c.CoverImage.Name = "x"
	c.StatusHistory[0].Comment = "x"
	c.Tips[0].IsRead = true
	c.Tips[0].Attachments[0].Name = "x"
	c.Messages[0].IsRead = true

	assert.Equal(t, "c.png", d.CoverImage.Name)
	assert.Empty(t, d.StatusHistory[0].Comment)
	assert.False(t, d.Tips[0].IsRead)
	assert.Equal(t, "a", d.Tips[0].Attachments[0].Name)
	assert.False(t, d.Messages[0].IsRead)
}

func TestUnreadCounters(t *testing.T) {
	d := Declaration{
		Tips: []Tip{{IsRead: false}, {IsRead: true}},
		Messages: []Message{
			{SenderType: SenderDeclarant},
			{SenderType: SenderDeclarant, IsRead: true},
			{SenderType: SenderAdmin},
		},
	}
	assert.Equal(t, 1, d.UnreadTips())
	assert.Equal(t, 1, d.UnreadMessagesFor(SenderAdmin))
	assert.Equal(t, 1, d.UnreadMessagesFor(SenderDeclarant))
}

func TestPendingVerification_Expired(t *testing.T) {
	now := time.Now()
	p := PendingVerification{ExpiresAt: now}
	assert.False(t, p.Expired(now))
	assert.True(t, p.Expired(now.Add(time.Millisecond)))
}
