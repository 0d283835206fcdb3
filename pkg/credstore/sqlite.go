package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"onebookreader/pkg/domain"
)

// credentialRowID is the primary key of the single credentials row.
const credentialRowID = 1

// CredentialModel is the GORM model behind SQLiteStore.
type CredentialModel struct {
	ID        uint   `gorm:"primaryKey"`
	Token     string `gorm:"not null"`
	UserJSON  string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (CredentialModel) TableName() string { return "credentials" }

// SQLiteStore keeps credentials in a local SQLite file (pure Go driver).
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credential store sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create credential dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("configure credential db (%s): %w", pragma, err)
		}
	}
	if err := db.AutoMigrate(&CredentialModel{}); err != nil {
		return nil, fmt.Errorf("migrate credential db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) load(ctx context.Context) (CredentialModel, bool, error) {
	var row CredentialModel
	err := s.db.WithContext(ctx).First(&row, credentialRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CredentialModel{}, false, nil
	}
	if err != nil {
		return CredentialModel{}, false, fmt.Errorf("read credentials: %w", err)
	}
	return row, true, nil
}

func (s *SQLiteStore) Token(ctx context.Context) (string, bool, error) {
	row, ok, err := s.load(ctx)
	if err != nil || !ok {
		return "", false, err
	}
	return row.Token, row.Token != "", nil
}

func (s *SQLiteStore) User(ctx context.Context) (domain.User, bool, error) {
	row, ok, err := s.load(ctx)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	var user domain.User
	if err := json.Unmarshal([]byte(row.UserJSON), &user); err != nil {
		return domain.User{}, false, fmt.Errorf("decode user: %w", err)
	}
	return user, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, token string, user domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	row := CredentialModel{
		ID:        credentialRowID,
		Token:     token,
		UserJSON:  string(raw),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Delete(&CredentialModel{}, credentialRowID).Error; err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
