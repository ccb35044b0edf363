package cli

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/declaro/internal/client/models"
)

// Protection shows the anti-abuse settings, or edits them with "edit".
func (a *App) Protection(ctx context.Context, args []string) error {
	switch {
	case len(args) == 0:
		p, ok, err := a.settings.Protection(ctx)
		if err != nil {
			return err
		}
		if !ok {
			a.printf("Protection settings are not available offline yet.\n")
			return nil
		}
		a.printProtection(p)
		return nil
	case len(args) == 1 && args[0] == "edit":
		return a.editProtection(ctx)
	}
	return usage("protection [edit]")
}

func (a *App) editProtection(ctx context.Context) error {
	p, _, err := a.settings.Protection(ctx)
	if err != nil {
		return err
	}

	if p.RateLimitDeclarations, err = GetYesNo(a.reader, "Rate limit declarations?", p.RateLimitDeclarations, a.out); err != nil {
		return err
	}
	if p.RateLimitDeclarations {
		v, err := GetSimpleText(a.reader, "Limit (e.g. 5/h, empty keeps "+orNone(p.RateLimitDeclarationsValue)+")", a.out)
		if err != nil {
			return err
		}
		if v != "" {
			p.RateLimitDeclarationsValue = v
		}
	}
	if p.CaptchaDeclarations, err = GetYesNo(a.reader, "Captcha on declarations?", p.CaptchaDeclarations, a.out); err != nil {
		return err
	}
	if p.RateLimitAttachments, err = GetYesNo(a.reader, "Rate limit attachments?", p.RateLimitAttachments, a.out); err != nil {
		return err
	}
	if p.CaptchaClues, err = GetYesNo(a.reader, "Captcha on tips?", p.CaptchaClues, a.out); err != nil {
		return err
	}

	replace, err := GetYesNo(a.reader, "Replace the IP blacklist ("+strings.Join(p.IPBlacklist, ", ")+")?", false, a.out)
	if err != nil {
		return err
	}
	if replace {
		if p.IPBlacklist, err = GetLines(a.reader, "Blacklisted IPs, one per line", a.out); err != nil {
			return err
		}
	}

	saved, err := a.settings.UpdateProtection(ctx, p)
	if err != nil {
		return err
	}
	a.printf("Protection settings saved.\n")
	a.printProtection(saved)
	return nil
}

func (a *App) printProtection(p models.ProtectionSettings) {
	a.printf("Rate limit declarations: %s %s\n", onOff(p.RateLimitDeclarations), p.RateLimitDeclarationsValue)
	a.printf("Captcha declarations:    %s\n", onOff(p.CaptchaDeclarations))
	a.printf("Rate limit attachments:  %s\n", onOff(p.RateLimitAttachments))
	a.printf("Captcha tips:            %s\n", onOff(p.CaptchaClues))
	a.printf("IP blacklist:            %s\n", orNone(strings.Join(p.IPBlacklist, ", ")))
	if !p.UpdatedAt.IsZero() {
		a.printf("Updated:                 %s\n", p.UpdatedAt.Local().Format(timeLayout))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
