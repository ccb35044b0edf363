package cli

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/client/services"
)

const timeLayout = "02/01/2006 15:04"

// lookup resolves a tracking code or a declaration id from the cache.
func (a *App) lookup(ctx context.Context, ref string) (models.Declaration, error) {
	if code := strings.ToUpper(strings.TrimSpace(ref)); services.ValidTrackingCode(code) {
		return a.decls.GetByTrackingCode(ctx, code)
	}
	return a.decls.GetByID(ctx, ref)
}

// List prints the cached declarations, newest first unless "validated" is
// given, in which case the triage order is used.
func (a *App) List(ctx context.Context, args []string) error {
	var (
		list []models.Declaration
		err  error
	)
	switch {
	case len(args) == 0:
		list, err = a.decls.All(ctx)
	case len(args) == 1 && args[0] == "validated":
		list, err = a.decls.Validated(ctx)
	default:
		return usage("list [validated]")
	}
	if err != nil {
		return err
	}
	if len(list) == 0 {
		a.printf("No declarations.\n")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tTYPE\tSTATUS\tPRIORITY\tDECLARANT\tCREATED\tUNREAD")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			d.ID, d.TrackingCode, d.Type, d.Status.Label(), cmp.Or(string(d.Priority), "-"),
			d.DeclarantName, d.CreatedAt.Local().Format(timeLayout),
			d.UnreadTips()+d.UnreadMessagesFor(models.SenderAdmin))
	}
	return tw.Flush()
}

// Show prints one declaration in full and marks the declarant's messages as
// read by the administration.
func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("show <id|code>")
	}
	d, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	a.printDeclaration(d, true)

	n, err := a.decls.MarkMessagesAsRead(ctx, d.ID, models.SenderAdmin)
	if err != nil {
		return err
	}
	if n > 0 {
		if user, ok := a.currentUser(ctx); ok {
			a.audit(ctx, user, models.ActionMessageRead, fmt.Sprintf("%d message(s) lu(s)", n), &d, nil)
		}
	}
	return nil
}

func (a *App) printDeclaration(d models.Declaration, internal bool) {
	a.printf("%s  [%s]\n", d.TrackingCode, d.Status.Label())
	a.printf("Type: %s  Catégorie: %s\n", d.Type, d.Category)
	if !d.IncidentDate.IsZero() {
		a.printf("Date des faits: %s\n", d.IncidentDate.Local().Format("02/01/2006"))
	}
	if d.Location != "" {
		a.printf("Lieu: %s\n", d.Location)
	}
	a.printf("\n%s\n\n", d.Description)

	if internal {
		a.printf("Déclarant: %s  %s %s\n", d.DeclarantName, d.Phone, d.Email)
		a.printf("Priorité: %s  Assignée à: %s  Validée par: %s\n",
			cmp.Or(string(d.Priority), "-"), cmp.Or(d.AssignedTo, "-"), cmp.Or(d.ValidatedBy, "-"))
		if d.IPAddress != "" || d.BrowserInfo != "" {
			a.printf("Origine: %s %s\n", d.IPAddress, d.BrowserInfo)
		}
		for _, att := range d.Attachments {
			a.printf("Pièce jointe: %s (%s)\n", att.Name, att.Type)
		}
	}

	a.printf("Historique:\n")
	for _, h := range d.StatusHistory {
		line := fmt.Sprintf("  %s  %s", h.ChangedAt.Local().Format(timeLayout), h.Status.Label())
		if internal {
			line += " par " + h.ChangedBy
		}
		if h.Comment != "" {
			line += "  " + h.Comment
		}
		a.printf("%s\n", line)
	}

	if internal && len(d.Tips) > 0 {
		a.printf("Indices: %d (%d non lus)\n", len(d.Tips), d.UnreadTips())
	}
	if len(d.Messages) > 0 {
		a.printf("Messages:\n")
		for _, m := range d.Messages {
			a.printf("  %s  %s: %s\n", m.CreatedAt.Local().Format(timeLayout), m.SenderName, m.Content)
		}
	}
}

// SetStatus handles "status <id|code> <status> [priority]". A comment is
// prompted for.
func (a *App) SetStatus(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usage("status <id|code> <status> [priority]")
	}
	d, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	user, _ := a.currentUser(ctx)

	u := services.StatusUpdate{
		ID:        d.ID,
		Status:    models.Status(args[1]),
		ChangedBy: user.Username,
	}
	if len(args) == 3 {
		u.Priority = models.Priority(args[2])
	}
	if u.Comment, err = GetSimpleText(a.reader, "Comment (optional)", a.out); err != nil {
		return err
	}

	updated, err := a.decls.UpdateDeclarationStatus(ctx, u)
	if err != nil {
		return err
	}

	action := models.ActionDeclarationStatusChanged
	switch updated.Status {
	case models.StatusValidated:
		action = models.ActionDeclarationValidated
	case models.StatusRejected:
		action = models.ActionDeclarationRejected
	}
	meta := map[string]string{"from": string(d.Status), "to": string(updated.Status)}
	if u.Priority != "" {
		meta["priority"] = string(u.Priority)
	}
	a.audit(ctx, user, action, fmt.Sprintf("Statut: %s", updated.Status.Label()), &updated, meta)
	if u.Priority != "" && u.Priority != d.Priority {
		a.audit(ctx, user, models.ActionDeclarationPriorityChanged, fmt.Sprintf("Priorité: %s", u.Priority), &updated, nil)
	}

	a.printf("%s is now %s.\n", updated.TrackingCode, updated.Status.Label())
	return nil
}

// Message sends an administration reply on a declaration thread.
func (a *App) Message(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("message <id|code>")
	}
	d, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	content, err := GetMultiline(a.reader, "Message", a.out)
	if err != nil {
		return err
	}
	user, _ := a.currentUser(ctx)

	m, err := a.decls.AddMessage(ctx, d.ID, models.MessageInput{
		SenderID:   user.ID,
		SenderName: user.Username,
		SenderType: models.SenderAdmin,
		Content:    content,
	})
	if err != nil {
		return err
	}
	a.audit(ctx, user, models.ActionMessageSent, "Message envoyé au déclarant", &d, map[string]string{"message": m.ID})
	a.printf("Message sent.\n")
	return nil
}

// Tips handles "tips", "tips <ref>" and "tips <ref> read <tip>".
func (a *App) Tips(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		n, err := a.decls.UnreadTipsCount(ctx)
		if err != nil {
			return err
		}
		m, err := a.decls.UnreadMessagesCount(ctx, models.SenderAdmin)
		if err != nil {
			return err
		}
		a.printf("Unread tips: %d, unread messages: %d\n", n, m)
		return nil

	case 1:
		d, err := a.lookup(ctx, args[0])
		if err != nil {
			return err
		}
		if len(d.Tips) == 0 {
			a.printf("No tips for %s.\n", d.TrackingCode)
			return nil
		}
		for _, t := range d.Tips {
			mark := " "
			if !t.IsRead {
				mark = "*"
			}
			a.printf("%s %s  %s  %s\n    %s\n", mark, t.ID, t.CreatedAt.Local().Format(timeLayout), t.TipsterPhone, t.Description)
			for _, att := range t.Attachments {
				a.printf("    Pièce jointe: %s (%s)\n", att.Name, att.Type)
			}
		}
		return nil

	case 3:
		if args[1] != "read" {
			break
		}
		d, err := a.lookup(ctx, args[0])
		if err != nil {
			return err
		}
		if err := a.decls.MarkTipAsRead(ctx, d.ID, args[2]); err != nil {
			return err
		}
		if user, ok := a.currentUser(ctx); ok {
			a.audit(ctx, user, models.ActionTipRead, "Indice consulté", &d, map[string]string{"tip": args[2]})
		}
		a.printf("Tip marked as read.\n")
		return nil
	}
	return usage("tips [<id|code> [read <tip>]]")
}

// Track prints the citizen view of a declaration.
func (a *App) Track(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("track <code>")
	}
	d, err := a.decls.Track(ctx, args[0])
	if err != nil {
		return err
	}
	a.printDeclaration(d, false)
	return nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "02/01/2006"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD", s)
}
