package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"lumosai/pkg/domain"
)

const migrateLockID int64 = 51730917

const sqliteScheme = "sqlite://"

// GormStore implements Store using GORM on Postgres (or SQLite for local runs and tests).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
// A dsn starting with sqlite:// opens a SQLite file; anything else is a Postgres DSN.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{
		Logger:  gormLog,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	if path, ok := strings.CutPrefix(dsn, sqliteScheme); ok {
		db, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		if err := migrate(db); err != nil {
			return nil, err
		}
		return &GormStore{db: db}, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&AssistantModel{},
		&MessageModel{},
		&AttachmentModel{},
		&UsageEventModel{},
		&APICallModel{},
		&UserModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	var users int64
	if err := db.Model(&UserModel{}).Count(&users).Error; err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if users == 0 {
		email := "user@lumos.local"
		now := time.Now().UTC()
		seed := UserModel{
			Name:      "User",
			Email:     &email,
			Settings:  datatypes.JSON(`{"theme":"dark"}`),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := db.Create(&seed).Error; err != nil {
			return fmt.Errorf("seed default user: %w", err)
		}
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateAssistant inserts a new assistant and returns it with its assigned id.
func (s *GormStore) CreateAssistant(ctx context.Context, a domain.Assistant) (domain.Assistant, error) {
	model := assistantToModel(a)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Assistant{}, err
	}
	return assistantFromModel(model), nil
}

// GetAssistant returns an assistant by id.
func (s *GormStore) GetAssistant(ctx context.Context, id int64) (domain.Assistant, bool, error) {
	var model AssistantModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Assistant{}, false, nil
		}
		return domain.Assistant{}, false, err
	}
	return assistantFromModel(model), true, nil
}

// ListAssistants returns assistants, most recently updated first.
func (s *GormStore) ListAssistants(ctx context.Context) ([]domain.Assistant, error) {
	var models []AssistantModel
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Assistant, 0, len(models))
	for _, m := range models {
		out = append(out, assistantFromModel(m))
	}
	return out, nil
}

// UpdateAssistant overwrites title, context and temperature.
func (s *GormStore) UpdateAssistant(ctx context.Context, a domain.Assistant) (domain.Assistant, bool, error) {
	var model AssistantModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", a.ID).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&AssistantModel{}).Where("id = ?", a.ID).Updates(map[string]any{
			"title":       a.Title,
			"context":     a.Context,
			"temperature": a.Temperature,
			"updated_at":  now,
		}).Error; err != nil {
			return err
		}
		model.Title = a.Title
		model.Context = a.Context
		model.Temperature = a.Temperature
		model.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Assistant{}, false, nil
		}
		return domain.Assistant{}, false, err
	}
	return assistantFromModel(model), true, nil
}

// DeleteAssistant removes an assistant, its messages and their attachments in
// one transaction and detaches telemetry rows.
func (s *GormStore) DeleteAssistant(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := deleteMessagesTx(tx, id); err != nil {
			return err
		}
		if err := tx.Model(&UsageEventModel{}).Where("assistant_id = ?", id).Update("assistant_id", nil).Error; err != nil {
			return fmt.Errorf("detach usage events: %w", err)
		}
		if err := tx.Model(&APICallModel{}).Where("assistant_id = ?", id).Update("assistant_id", nil).Error; err != nil {
			return fmt.Errorf("detach api calls: %w", err)
		}
		res := tx.Delete(&AssistantModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// GetDefaultUser returns the single implicit user row.
func (s *GormStore) GetDefaultUser(ctx context.Context) (domain.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Order("id ASC").First(&model).Error; err != nil {
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// UpdateUser persists profile fields of the given user.
func (s *GormStore) UpdateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	model.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).
		Select("name", "email", "photo_url", "settings", "updated_at").
		Where("id = ?", u.ID).
		Updates(&model).Error; err != nil {
		return domain.User{}, err
	}
	var reloaded UserModel
	if err := s.db.WithContext(ctx).First(&reloaded, "id = ?", u.ID).Error; err != nil {
		return domain.User{}, err
	}
	return userFromModel(reloaded), nil
}

func assistantToModel(a domain.Assistant) AssistantModel {
	return AssistantModel{
		ID:          a.ID,
		Title:       a.Title,
		Context:     a.Context,
		Temperature: a.Temperature,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func assistantFromModel(m AssistantModel) domain.Assistant {
	return domain.Assistant{
		ID:          m.ID,
		Title:       m.Title,
		Context:     m.Context,
		Temperature: m.Temperature,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func userToModel(u domain.User) UserModel {
	var email *string
	if v := strings.TrimSpace(u.Email); v != "" {
		email = &v
	}
	settings := u.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	raw, _ := json.Marshal(settings)
	return UserModel{
		ID:        u.ID,
		Name:      u.Name,
		Email:     email,
		PhotoURL:  u.PhotoURL,
		Settings:  datatypes.JSON(raw),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	email := ""
	if m.Email != nil {
		email = *m.Email
	}
	settings := map[string]any{}
	if len(m.Settings) > 0 {
		_ = json.Unmarshal(m.Settings, &settings)
	}
	return domain.User{
		ID:        m.ID,
		Name:      m.Name,
		Email:     email,
		PhotoURL:  m.PhotoURL,
		Settings:  settings,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
