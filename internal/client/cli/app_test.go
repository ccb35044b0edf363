package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/declaro/internal/client/config"
	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/client/storage"
	"github.com/dmitrijs2005/declaro/internal/common"
	"github.com/dmitrijs2005/declaro/internal/cryptox"
	"github.com/dmitrijs2005/declaro/internal/testutil/fakeapi"
)

// lineReader hands out one line per Read; each line is computed when it is
// first needed, so a test can answer with a code issued moments before.
type lineReader struct {
	lines []func() string
}

func (r *lineReader) Read(p []byte) (int, error) {
	if len(r.lines) == 0 {
		return 0, io.EOF
	}
	next := r.lines[0]
	r.lines = r.lines[1:]
	return copy(p, next()+"\n"), nil
}

func fixed(lines ...string) []func() string {
	out := make([]func() string, len(lines))
	for i, l := range lines {
		out[i] = func() string { return l }
	}
	return out
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	orig := getPassword
	getPassword = func(io.Writer, string) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { getPassword = orig })
}

func newTestApp(t *testing.T, srv *fakeapi.Server, in io.Reader) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.APIBaseURL = srv.URL
	cfg.DBPath = storage.MemoryDSN
	cfg.DataDir = t.TempDir()
	cfg.RequestTimeout = 2 * time.Second

	var out bytes.Buffer
	a, err := NewApp(context.Background(), cfg, WithInput(in), WithOutput(&out))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, &out
}

func declarationInput() models.DeclarationInput {
	return models.DeclarationInput{
		DeclarantName: "Ama Koffi",
		Phone:         "+228 90 12 34 56",
		Type:          models.TypeLossReport,
		Category:      "Documents",
		Description:   "Perte d'une carte d'identité au grand marché.",
		Location:      "Lomé",
	}
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestApp_SubmitOfflineThenSync(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.SetDown(true)
	a, out := newTestApp(t, srv, strings.NewReader(""))
	ctx := context.Background()

	png := writeFile(t, "photo.png", []byte("\x89PNG\r\n\x1a\n0000"))
	d, err := a.Submit(ctx, declarationInput(), "", []string{png})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Tracking code: "+d.TrackingCode)
	assert.Contains(t, out.String(), "You are offline")
	require.Len(t, d.Attachments, 1)
	assert.Equal(t, "image/png", d.Attachments[0].Type)
	assert.NotEmpty(t, d.IPAddress+d.BrowserInfo)

	require.Error(t, a.Sync(ctx))
	assert.Empty(t, srv.Declarations())

	// Coming back online replays the queue before Sync flushes again.
	srv.SetDown(false)
	require.NoError(t, a.Sync(ctx))
	require.Len(t, srv.Declarations(), 1)
	assert.Len(t, srv.Declarations()[0]["attachments"], 1)

	out.Reset()
	require.NoError(t, a.Status(ctx))
	assert.Contains(t, out.String(), "Pending writes: 0 declaration(s), 0 log(s)")
}

func TestApp_SubmitRejectsMissingAttachment(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	a, _ := newTestApp(t, srv, strings.NewReader(""))

	_, err := a.Submit(context.Background(), declarationInput(), "", []string{filepath.Join(t.TempDir(), "nope.jpg")})
	require.Error(t, err)
	assert.Empty(t, srv.Declarations())
}

func TestApp_AdminSession(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.AddUser("admin", "admin@example.tg", "Secret1!x", false)
	stubPassword(t, "Secret1!x")

	a, out := newTestApp(t, srv, strings.NewReader("admin\nPièces conformes\nMerci de passer au commissariat.\n\n"))
	ctx := context.Background()

	d, err := a.Submit(ctx, declarationInput(), "", nil)
	require.NoError(t, err)

	require.NoError(t, a.Login(ctx))
	assert.Contains(t, out.String(), "Welcome, admin")
	assert.True(t, a.isLoggedIn())
	assert.Equal(t, "(admin online)", a.getStatus())

	require.NoError(t, a.SetStatus(ctx, []string{d.TrackingCode, "validee", "urgente"}))
	got, err := a.lookup(ctx, d.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidated, got.Status)
	assert.Equal(t, models.PriorityUrgent, got.Priority)
	assert.Equal(t, "Pièces conformes", got.StatusHistory[len(got.StatusHistory)-1].Comment)

	require.NoError(t, a.Message(ctx, []string{strings.ToLower(d.TrackingCode)}))
	got, err = a.lookup(ctx, d.TrackingCode)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, models.SenderAdmin, got.Messages[0].SenderType)

	out.Reset()
	require.NoError(t, a.List(ctx, []string{"validated"}))
	assert.Contains(t, out.String(), d.TrackingCode)
	assert.Contains(t, out.String(), "urgente")

	out.Reset()
	require.NoError(t, a.Logs(ctx, []string{"action", string(models.ActionDeclarationValidated)}))
	assert.Contains(t, out.String(), models.ActionDeclarationValidated.Label())
	assert.Contains(t, out.String(), d.TrackingCode)

	actions := map[string]bool{}
	for _, l := range srv.Logs() {
		actions[l["action"].(string)] = true
	}
	for _, want := range []models.Action{models.ActionLoginSuccess, models.ActionDeclarationValidated, models.ActionDeclarationPriorityChanged, models.ActionMessageSent} {
		assert.True(t, actions[string(want)], "server log has %s", want)
	}

	require.NoError(t, a.Logout(ctx))
	assert.False(t, a.isLoggedIn())
}

func TestApp_LoginTwoFactor(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	userID := srv.AddUser("admin", "admin@example.tg", "Secret1!x", true)
	stubPassword(t, "Secret1!x")

	in := &lineReader{lines: append(fixed("admin", "000000"), func() string { return srv.Code(userID) })}
	a, out := newTestApp(t, srv, in)
	ctx := context.Background()
	a.Check(ctx)

	require.NoError(t, a.Login(ctx))
	assert.Contains(t, out.String(), "A verification code has been sent.")
	assert.Contains(t, out.String(), "Incorrect code, try again.")
	assert.Contains(t, out.String(), "Welcome, admin")
	assert.True(t, a.isLoggedIn())

	failed, err := a.activity.ByAction(ctx, models.ActionTwoFactorFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestApp_LoginTwoFactorCancelled(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.SetDown(true)
	stubPassword(t, "Secret1!x")

	a, out := newTestApp(t, srv, strings.NewReader("agent\nagent@example.tg\ny\nagent\n\n"))
	ctx := context.Background()

	require.NoError(t, a.Register(ctx))
	assert.Contains(t, out.String(), "Account agent created")

	require.NoError(t, a.Login(ctx))
	assert.Contains(t, out.String(), "Login cancelled.")
	assert.False(t, a.isLoggedIn())

	_, err := os.Stat(filepath.Join(a.config.DataDir, "otp", "agent.txt"))
	require.NoError(t, err, "the code is dropped for the operator")
}

func TestApp_UsersAndTwoFactor(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.SetDown(true)
	stubPassword(t, "Secret1!x")

	a, out := newTestApp(t, srv, strings.NewReader("agent\nagent@example.tg\nn\nagent\n"))
	ctx := context.Background()

	require.NoError(t, a.Status(ctx))
	assert.Contains(t, out.String(), "No account on this device yet")

	require.NoError(t, a.Register(ctx))
	require.NoError(t, a.Login(ctx))
	require.True(t, a.isLoggedIn())

	out.Reset()
	require.NoError(t, a.Users(ctx))
	assert.Contains(t, out.String(), "agent@example.tg")
	assert.Contains(t, out.String(), "off")

	require.NoError(t, a.TwoFactor(ctx, []string{"on"}))
	assert.Contains(t, out.String(), "Two-factor authentication enabled for agent.")
	require.ErrorIs(t, a.TwoFactor(ctx, []string{"off", "nobody"}), common.ErrUserNotFound)

	out.Reset()
	require.NoError(t, a.Users(ctx))
	assert.Contains(t, out.String(), " on ")

	toggled, err := a.activity.ByAction(ctx, models.ActionTwoFactorEnabled)
	require.NoError(t, err)
	require.Len(t, toggled, 1)
	assert.Equal(t, "agent", toggled[0].Metadata["user"])
}

func TestApp_ProtectionEdit(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.AddUser("admin", "admin@example.tg", "Secret1!x", false)
	stubPassword(t, "Secret1!x")

	in := strings.NewReader("admin\ny\n5/h\nn\ny\ny\ny\n 10.0.0.1 \n2001:db8::1\n\n")
	a, out := newTestApp(t, srv, in)
	ctx := context.Background()
	a.Check(ctx)
	require.NoError(t, a.Login(ctx))

	require.NoError(t, a.Protection(ctx, []string{"edit"}))
	assert.Contains(t, out.String(), "Protection settings saved.")
	assert.Contains(t, out.String(), "IP blacklist:            10.0.0.1, 2001:db8::1")

	srv.SetDown(true)
	a.Check(ctx)
	out.Reset()
	require.NoError(t, a.Protection(ctx, nil))
	assert.Contains(t, out.String(), "Rate limit declarations: on 5/h")
	assert.Contains(t, out.String(), "Captcha declarations:    off")
}

func TestApp_BackupImport(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.SetDown(true)
	stubPassword(t, "correct horse")

	a, out := newTestApp(t, srv, strings.NewReader("y\nn\n"))
	ctx := context.Background()

	d, err := a.Submit(ctx, declarationInput(), "", nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "backup.bin")
	require.NoError(t, a.Backup(ctx, []string{path}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), d.TrackingCode)

	var b backup
	require.NoError(t, cryptox.OpenJSON(raw, "correct horse", &b))
	assert.Equal(t, backupVersion, b.Version)
	assert.Contains(t, string(b.Declarations), d.TrackingCode)

	require.NoError(t, a.Import(ctx, []string{path}))
	assert.Contains(t, out.String(), "Imported 1 declarations.")

	require.NoError(t, a.Import(ctx, []string{path}))
	assert.Contains(t, out.String(), "Import cancelled.")

	stubPassword(t, "wrong")
	require.ErrorIs(t, a.Import(ctx, []string{path}), cryptox.ErrWrongPassphrase)
}

func TestApp_Export(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.SetDown(true)
	a, _ := newTestApp(t, srv, strings.NewReader(""))
	ctx := context.Background()

	_, err := a.Submit(ctx, declarationInput(), "", nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "declarations.json")
	require.NoError(t, a.Export(ctx, []string{path}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var list []models.Declaration
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Ama Koffi", list[0].DeclarantName)

	require.ErrorIs(t, a.Export(ctx, nil), errUsage)
}

func TestApp_TrackAndTip(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.SetDown(true)
	a, out := newTestApp(t, srv, strings.NewReader(""))
	ctx := context.Background()

	d, err := a.Submit(ctx, declarationInput(), "", nil)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, a.TrackCode(ctx, strings.ToLower(d.TrackingCode)))
	assert.Contains(t, out.String(), models.StatusPending.Label())
	assert.NotContains(t, out.String(), "+228", "the public view hides the declarant")

	_, err = a.SubmitTip(ctx, d.TrackingCode, models.TipInput{
		TipsterPhone: "+228 91 00 00 00",
		Description:  "Carte aperçue près de la gare routière.",
	}, nil)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, a.Tips(ctx, nil))
	assert.Contains(t, out.String(), "Unread tips: 1")
}

func TestApp_UsageErrors(t *testing.T) {
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	a, _ := newTestApp(t, srv, strings.NewReader(""))
	ctx := context.Background()

	for name, err := range map[string]error{
		"show":       a.Show(ctx, nil),
		"status":     a.SetStatus(ctx, []string{"x"}),
		"tips":       a.Tips(ctx, []string{"x", "unread", "y"}),
		"logs":       a.Logs(ctx, []string{"-3"}),
		"2fa":        a.TwoFactor(ctx, []string{"maybe"}),
		"protection": a.Protection(ctx, []string{"delete"}),
		"backup":     a.Backup(ctx, nil),
	} {
		assert.ErrorIs(t, err, errUsage, name)
	}
}
