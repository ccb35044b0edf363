package cli

import (
	"context"

	"github.com/dmitrijs2005/declaro/internal/buildinfo"
	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/filex"
	"github.com/dmitrijs2005/declaro/internal/netx"
)

// attachments reads files from disk into inline attachments.
func attachments(paths []string) ([]models.Attachment, error) {
	out := make([]models.Attachment, 0, len(paths))
	for _, p := range paths {
		f, err := filex.ReadAttachment(p)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Attachment{Name: f.Name, Data: f.Data, Type: f.MIME, Size: f.Size})
	}
	return out, nil
}

// Submit files a citizen declaration. Files listed in files become
// attachments; cover, when set, is the cover image. Offline the declaration
// is queued and still gets its tracking code.
func (a *App) Submit(ctx context.Context, in models.DeclarationInput, cover string, files []string) (models.Declaration, error) {
	var err error
	if in.Attachments, err = attachments(files); err != nil {
		return models.Declaration{}, err
	}
	if cover != "" {
		img, err := attachments([]string{cover})
		if err != nil {
			return models.Declaration{}, err
		}
		in.CoverImage = &img[0]
	}

	info := netx.Describe(ctx, buildinfo.Version)
	in.BrowserInfo = info.UserAgent
	in.DeviceType = info.DeviceType
	in.DeviceModel = info.DeviceModel
	in.IPAddress = info.IP

	a.Check(ctx)
	d, err := a.decls.AddDeclaration(ctx, in)
	if err != nil {
		return models.Declaration{}, err
	}
	a.printf("Declaration registered. Tracking code: %s\n", d.TrackingCode)
	if !a.state.Online() {
		a.printf("You are offline; it will be sent once the portal is reachable.\n")
	}
	return d, nil
}

// SubmitTip adds a citizen tip to a declaration held in the local cache.
func (a *App) SubmitTip(ctx context.Context, code string, in models.TipInput, files []string) (models.Tip, error) {
	var err error
	if in.Attachments, err = attachments(files); err != nil {
		return models.Tip{}, err
	}

	a.Check(ctx)
	d, err := a.decls.GetByTrackingCode(ctx, code)
	if err != nil {
		return models.Tip{}, err
	}
	t, err := a.decls.AddTip(ctx, d.ID, in)
	if err != nil {
		return models.Tip{}, err
	}
	a.printf("Thank you, your tip was recorded.\n")
	return t, nil
}

// TrackCode is the one-shot form of the console "track" command.
func (a *App) TrackCode(ctx context.Context, code string) error {
	a.Check(ctx)
	return a.Track(ctx, []string{code})
}

// Flush replays queued writes once; used by the "sync" command.
func (a *App) Flush(ctx context.Context) error {
	if _, _, err := a.auth.Restore(ctx); err != nil {
		return err
	}
	return a.Sync(ctx)
}
