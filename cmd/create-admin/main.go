// Command create-admin creates the admin account or resets its password.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MediSynth-io/showcase/internal/auth"
	"github.com/MediSynth-io/showcase/internal/config"
	"github.com/MediSynth-io/showcase/internal/database"
	"github.com/MediSynth-io/showcase/internal/logging"
	"github.com/MediSynth-io/showcase/internal/models"
)

const passwordEnv = "SHOWCASE_ADMIN_PASSWORD"

// minPasswordLength applies to passwords set here, not to login attempts.
const minPasswordLength = 12

type adminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	UpdateCredentials(ctx context.Context, id, passwordHash, name string) error
}

// upsertAdmin creates the account for email or replaces its password and
// name. It reports whether a new account was created.
func upsertAdmin(ctx context.Context, users adminStore, hasher *auth.PasswordHasher, email, name, password string) (bool, error) {
	if len(password) < minPasswordLength {
		return false, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > auth.MaxPasswordBytes {
		return false, fmt.Errorf("password must be at most %d bytes", auth.MaxPasswordBytes)
	}
	hash, err := hasher.Hash(ctx, password)
	if err != nil {
		return false, err
	}

	existing, err := users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		u := &models.User{Email: email, Name: name, PasswordHash: hash, Role: models.RoleAdmin}
		if err := users.Create(ctx, u); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if name == "" {
		name = existing.Name
	}
	if err := users.UpdateCredentials(ctx, existing.ID, hash, name); err != nil {
		return false, err
	}
	return false, nil
}

func run(configPath, email, name, password string, logger *slog.Logger) error {
	if email == "" {
		return errors.New("-email is required")
	}
	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	if password == "" {
		return fmt.Errorf("set %s or pass -password", passwordEnv)
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Init()
	} else {
		cfg, err = config.LoadConfig(configPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost, 1)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	created, err := upsertAdmin(ctx, auth.NewUserStore(db), hasher, email, name, password)
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin account created", "email", models.NormalizeEmail(email))
	} else {
		logger.Info("admin account updated", "email", models.NormalizeEmail(email))
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default $CONFIG_DIR/app.yml)")
	email := flag.String("email", "", "Admin email address")
	name := flag.String("name", "", "Display name")
	password := flag.String("password", "", "Admin password (prefer "+passwordEnv+")")
	flag.Parse()

	logger := logging.New("info", "text", os.Stderr)
	if err := run(*configPath, *email, *name, *password, logger); err != nil {
		logger.Error("create-admin failed", "error", err)
		os.Exit(1)
	}
}
