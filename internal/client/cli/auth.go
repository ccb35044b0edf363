package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/common"
)

func (a *App) Register(ctx context.Context) error {
	name, err := GetSimpleText(a.reader, "Username", a.out)
	if err != nil {
		return err
	}
	email, err := GetSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}
	pw, err := getPassword(a.out, "Password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)
	twoFactor, err := GetYesNo(a.reader, "Enable two-factor authentication?", false, a.out)
	if err != nil {
		return err
	}

	user, err := a.auth.Register(ctx, models.Registration{
		Username:  name,
		Email:     email,
		Password:  string(pw),
		Enable2FA: twoFactor,
	})
	if err != nil {
		return err
	}
	a.audit(ctx, user, models.ActionUserCreated, fmt.Sprintf("Compte %s créé", user.Username), nil, nil)
	a.printf("Account %s created, you can now login.\n", user.Username)
	return nil
}

// Login authenticates and, when required, walks the operator through the
// second factor. An empty code abandons the challenge.
func (a *App) Login(ctx context.Context) error {
	name, err := GetSimpleText(a.reader, "Username", a.out)
	if err != nil {
		return err
	}
	pw, err := getPassword(a.out, "Password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	res, err := a.auth.Login(ctx, models.Credentials{Username: name, Password: string(pw)})
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			a.audit(ctx, models.AdminUser{Username: name}, models.ActionLoginFailed, "Identifiants invalides", nil, nil)
		}
		return err
	}

	user := res.User
	if res.Requires2FA {
		a.printf("A verification code has been sent.\n")
		if user, err = a.verify(ctx, name); err != nil {
			return err
		}
		if user.ID == "" {
			a.printf("Login cancelled.\n")
			return nil
		}
	}

	a.audit(ctx, user, models.ActionLoginSuccess, "Connexion réussie", nil, nil)
	a.printf("Welcome, %s\n", user.Username)
	a.refresh(ctx)
	return nil
}

func (a *App) verify(ctx context.Context, name string) (models.AdminUser, error) {
	for {
		code, err := GetSimpleText(a.reader, "Verification code (empty to cancel)", a.out)
		if err != nil {
			return models.AdminUser{}, err
		}
		if code == "" {
			return models.AdminUser{}, a.auth.CancelPending2FA(ctx)
		}

		user, err := a.auth.Verify2FA(ctx, code)
		switch {
		case err == nil:
			a.audit(ctx, user, models.ActionTwoFactorOK, "Code de vérification accepté", nil, nil)
			return user, nil
		case errors.Is(err, common.ErrIncorrectCode), errors.Is(err, common.ErrValidation):
			a.audit(ctx, models.AdminUser{Username: name}, models.ActionTwoFactorFailed, "Code de vérification incorrect", nil, nil)
			a.printf("Incorrect code, try again.\n")
		default:
			return models.AdminUser{}, err
		}
	}
}

func (a *App) Logout(ctx context.Context) error {
	if user, ok := a.currentUser(ctx); ok {
		a.audit(ctx, user, models.ActionLogout, "Déconnexion", nil, nil)
	}
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	a.printf("Logged out.\n")
	return nil
}

// TwoFactor handles "2fa on|off [user-id]". Without an id it applies to the
// signed-in account.
func (a *App) TwoFactor(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 || (args[0] != "on" && args[0] != "off") {
		return usage("2fa on|off [user-id]")
	}
	actor, ok := a.currentUser(ctx)
	if !ok {
		return common.ErrorUnauthorized
	}
	target := actor.ID
	if len(args) == 2 {
		target = args[1]
	}

	var (
		user models.AdminUser
		err  error
	)
	if args[0] == "on" {
		user, err = a.auth.Enable2FA(ctx, target)
	} else {
		user, err = a.auth.Disable2FA(ctx, target)
	}
	if err != nil {
		return err
	}

	meta := map[string]string{"user": user.Username}
	if user.TwoFactorEnabled {
		a.audit(ctx, actor, models.ActionTwoFactorEnabled, "Double authentification activée", nil, meta)
		a.printf("Two-factor authentication enabled for %s.\n", user.Username)
	} else {
		a.audit(ctx, actor, models.ActionTwoFactorDisable, "Double authentification désactivée", nil, meta)
		a.printf("Two-factor authentication disabled for %s.\n", user.Username)
	}
	return nil
}

// Users lists the admin accounts known to this device.
func (a *App) Users(ctx context.Context) error {
	users, err := a.auth.Users(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		a.printf("No local accounts yet.\n")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\t2FA\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, onOff(u.TwoFactorEnabled), u.CreatedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}
