package models

import "time"

// Action is the closed set of audited action kinds.
type Action string

const (
	ActionLoginSuccess     Action = "login_success"
	ActionLoginFailed      Action = "login_failed"
	ActionLogout           Action = "logout"
	ActionPasswordChange   Action = "password_change"
	ActionTwoFactorEnabled Action = "two_factor_enabled"
	ActionTwoFactorDisable Action = "two_factor_disabled"
	ActionTwoFactorOK      Action = "two_factor_verified"
	ActionTwoFactorFailed  Action = "two_factor_failed"

	ActionDeclarationCreated         Action = "declaration_created"
	ActionDeclarationValidated       Action = "declaration_validated"
	ActionDeclarationRejected        Action = "declaration_rejected"
	ActionDeclarationStatusChanged   Action = "declaration_status_changed"
	ActionDeclarationPriorityChanged Action = "declaration_priority_changed"
	ActionDeclarationDeleted         Action = "declaration_deleted"

	ActionTipSubmitted Action = "tip_submitted"
	ActionTipRead      Action = "tip_read"
	ActionTipEvaluated Action = "tip_evaluated"

	ActionMessageSent Action = "message_sent"
	ActionMessageRead Action = "message_read"

	ActionUserCreated     Action = "user_created"
	ActionUserRoleChanged Action = "user_role_changed"
	ActionUserDeactivated Action = "user_deactivated"

	ActionDataExported Action = "data_exported"
	ActionDataImported Action = "data_imported"
	ActionDataBackup   Action = "data_backup"
)

var actionLabels = map[Action]string{
	ActionLoginSuccess:     "Connexion réussie",
	ActionLoginFailed:      "Échec de connexion",
	ActionLogout:           "Déconnexion",
	ActionPasswordChange:   "Changement de mot de passe",
	ActionTwoFactorEnabled: "2FA activée",
	ActionTwoFactorDisable: "2FA désactivée",
	ActionTwoFactorOK:      "Code 2FA vérifié",
	ActionTwoFactorFailed:  "Code 2FA refusé",

	ActionDeclarationCreated:         "Déclaration créée",
	ActionDeclarationValidated:       "Déclaration validée",
	ActionDeclarationRejected:        "Déclaration rejetée",
	ActionDeclarationStatusChanged:   "Statut modifié",
	ActionDeclarationPriorityChanged: "Priorité modifiée",
	ActionDeclarationDeleted:         "Déclaration supprimée",

	ActionTipSubmitted: "Indice soumis",
	ActionTipRead:      "Indice consulté",
	ActionTipEvaluated: "Indice évalué",

	ActionMessageSent: "Message envoyé",
	ActionMessageRead: "Message lu",

	ActionUserCreated:     "Utilisateur créé",
	ActionUserRoleChanged: "Rôle modifié",
	ActionUserDeactivated: "Utilisateur désactivé",

	ActionDataExported: "Données exportées",
	ActionDataImported: "Données importées",
	ActionDataBackup:   "Sauvegarde effectuée",
}

func (a Action) Valid() bool {
	_, ok := actionLabels[a]
	return ok
}

func (a Action) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// Actions lists every known action kind.
func Actions() []Action {
	out := make([]Action, 0, len(actionLabels))
	for a := range actionLabels {
		out = append(out, a)
	}
	return out
}

// ActivityLog is an immutable audit entry.
type ActivityLog struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	UserID          string            `json:"userId"`
	Username        string            `json:"username"`
	Action          Action            `json:"action"`
	Label           string            `json:"label"`
	Details         string            `json:"details"`
	DeclarationID   string            `json:"declarationId,omitempty"`
	DeclarationCode string            `json:"declarationCode,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type LogInput struct {
	UserID          string
	Username        string
	Action          Action
	Details         string
	DeclarationID   string
	DeclarationCode string
	Metadata        map[string]string
}
