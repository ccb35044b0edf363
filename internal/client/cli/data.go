package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/common"
	"github.com/dmitrijs2005/declaro/internal/cryptox"
)

const backupVersion = 1

// backup is the plaintext of an encrypted backup file.
type backup struct {
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	Declarations json.RawMessage `json:"declarations"`
	ActivityLogs json.RawMessage `json:"activityLogs"`
}

var errEmptyPassphrase = errors.New("passphrase must not be empty")

// Export handles "export <file>" and "export logs <file>".
func (a *App) Export(ctx context.Context, args []string) error {
	var (
		data []byte
		err  error
		path string
		what string
	)
	switch {
	case len(args) == 1:
		path, what = args[0], "declarations"
		data, err = a.decls.ExportJSON(ctx)
	case len(args) == 2 && args[0] == "logs":
		path, what = args[1], "activity logs"
		data, err = a.activity.Export(ctx)
	default:
		return usage("export [logs] <file>")
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if user, ok := a.currentUser(ctx); ok {
		a.audit(ctx, user, models.ActionDataExported, fmt.Sprintf("Export des %s", what), nil, map[string]string{"file": path})
	}
	a.printf("Exported %s to %s\n", what, path)
	return nil
}

// Backup writes declarations and activity logs sealed with a passphrase.
func (a *App) Backup(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("backup <file>")
	}
	decls, err := a.decls.ExportJSON(ctx)
	if err != nil {
		return err
	}
	logs, err := a.activity.Export(ctx)
	if err != nil {
		return err
	}

	pass, err := getPassword(a.out, "Backup passphrase")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)
	if len(pass) == 0 {
		return errEmptyPassphrase
	}

	sealed, err := cryptox.SealJSON(backup{
		Version:      backupVersion,
		CreatedAt:    time.Now().UTC(),
		Declarations: decls,
		ActivityLogs: logs,
	}, string(pass))
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", args[0], err)
	}

	if user, ok := a.currentUser(ctx); ok {
		a.audit(ctx, user, models.ActionDataBackup, "Sauvegarde chiffrée", nil, map[string]string{"file": args[0]})
	}
	a.printf("Backup written to %s\n", args[0])
	return nil
}

// Import replaces the cached declarations from a plain export or from an
// encrypted backup. The operator has to confirm.
func (a *App) Import(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("import <file>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		pass, err := getPassword(a.out, "Backup passphrase")
		if err != nil {
			return err
		}
		var b backup
		err = cryptox.OpenJSON(data, string(pass), &b)
		common.WipeByteArray(pass)
		if err != nil {
			return err
		}
		data = b.Declarations
	}

	ok, err := GetYesNo(a.reader, "This replaces every cached declaration. Continue?", false, a.out)
	if err != nil {
		return err
	}
	if !ok {
		a.printf("Import cancelled.\n")
		return nil
	}

	n, err := a.decls.ImportJSON(ctx, data)
	if err != nil {
		return err
	}
	if user, ok := a.currentUser(ctx); ok {
		a.audit(ctx, user, models.ActionDataImported, fmt.Sprintf("%d déclaration(s) importée(s)", n), nil, map[string]string{"file": args[0]})
	}
	a.printf("Imported %d declarations.\n", n)
	return nil
}
