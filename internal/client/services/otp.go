package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/models"
	"github.com/dmitrijs2005/declaro/internal/filex"
)

// OTPSender delivers a one-time code out of band. The code never travels
// back through the login result.
type OTPSender interface {
	SendOTP(ctx context.Context, user models.AdminUser, code string, expires time.Time) error
}

// FileDropSender writes codes to <dir>/otp/<username>.txt, readable by the
// owner only. It stands in for an SMS or mail gateway on a single machine.
type FileDropSender struct {
	Dir string
}

func (f FileDropSender) SendOTP(_ context.Context, user models.AdminUser, code string, expires time.Time) error {
	dir, err := filex.EnsureDir(f.Dir, "otp")
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Code de vérification: %s\nValable jusqu'à %s\n", code, expires.Local().Format("15:04:05"))
	path := filepath.Join(dir, filepath.Base(user.Username)+".txt")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write otp file: %w", err)
	}
	return nil
}
