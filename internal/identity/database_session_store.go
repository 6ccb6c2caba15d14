package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("session_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("session_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("session_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("session_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("session_store.unsupported_no_scheme")
)

// DatabaseSessionStore persists provider sessions using GORM.
type DatabaseSessionStore struct {
	db          *gorm.DB
	driverLabel string
	clock       Clock
}

// Driver exposes the selected database driver label.
func (store *DatabaseSessionStore) Driver() string {
	return store.driverLabel
}

// Close releases the database connection.
func (store *DatabaseSessionStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("session_store.close.%s: %w", store.driverLabel, err)
	}
	return sqlDB.Close()
}

type sessionRecord struct {
	Profile       string `gorm:"column:profile;primaryKey"`
	UserID        string `gorm:"column:user_id;index;not null"`
	Email         string `gorm:"column:email;not null;default:''"`
	DisplayName   string `gorm:"column:display_name;not null;default:''"`
	PhotoURL      string `gorm:"column:photo_url;not null;default:''"`
	EmailVerified bool   `gorm:"column:email_verified;not null;default:false"`
	ProviderID    string `gorm:"column:provider_id;not null;default:''"`
	CreatedUnix   int64  `gorm:"column:created_unix;not null;default:0"`
	IDToken       string `gorm:"column:id_token;not null"`
	RefreshToken  string `gorm:"column:refresh_token;not null"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;not null"`
	UpdatedUnix   int64  `gorm:"column:updated_unix;not null"`
}

func (sessionRecord) TableName() string {
	return "provider_sessions"
}

// NewDatabaseSessionStore constructs a GORM-backed session store.
func NewDatabaseSessionStore(ctx context.Context, databaseURL string) (*DatabaseSessionStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("session_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := ResolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("session_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("session_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseSessionStore{
		db:          gormDB,
		driverLabel: driverLabel,
		clock:       NewSystemClock(),
	}, nil
}

// Load returns the persisted session for the profile.
func (store *DatabaseSessionStore) Load(ctx context.Context, profile string) (*PersistedSession, error) {
	if strings.TrimSpace(profile) == "" {
		return nil, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, ErrSessionEmptyProfile)
	}
	var record sessionRecord
	err := store.db.WithContext(ctx).Where("profile = ?", profile).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, err)
	}
	session := &PersistedSession{
		Identity: Identity{
			UID:           record.UserID,
			DisplayName:   record.DisplayName,
			Email:         record.Email,
			PhotoURL:      record.PhotoURL,
			EmailVerified: record.EmailVerified,
			ProviderID:    record.ProviderID,
		},
		IDToken:      record.IDToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    time.Unix(record.ExpiresUnix, 0).UTC(),
	}
	if record.CreatedUnix != 0 {
		session.Identity.CreatedAt = time.Unix(record.CreatedUnix, 0).UTC()
	}
	return session, nil
}

// Save upserts the session for the profile.
func (store *DatabaseSessionStore) Save(ctx context.Context, profile string, session PersistedSession) error {
	if strings.TrimSpace(profile) == "" {
		return fmt.Errorf("session_store.save.%s: %w", store.driverLabel, ErrSessionEmptyProfile)
	}
	record := sessionRecord{
		Profile:       profile,
		UserID:        session.Identity.UID,
		Email:         session.Identity.Email,
		DisplayName:   session.Identity.DisplayName,
		PhotoURL:      session.Identity.PhotoURL,
		EmailVerified: session.Identity.EmailVerified,
		ProviderID:    session.Identity.ProviderID,
		IDToken:       session.IDToken,
		RefreshToken:  session.RefreshToken,
		ExpiresUnix:   session.ExpiresAt.Unix(),
		UpdatedUnix:   store.clock.Now().Unix(),
	}
	if !session.Identity.CreatedAt.IsZero() {
		record.CreatedUnix = session.Identity.CreatedAt.Unix()
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("session_store.save.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Clear deletes the session for the profile; clearing a missing profile is a no-op.
func (store *DatabaseSessionStore) Clear(ctx context.Context, profile string) error {
	if strings.TrimSpace(profile) == "" {
		return fmt.Errorf("session_store.clear.%s: %w", store.driverLabel, ErrSessionEmptyProfile)
	}
	if err := store.db.WithContext(ctx).Where("profile = ?", profile).Delete(&sessionRecord{}).Error; err != nil {
		return fmt.Errorf("session_store.clear.%s: %w", store.driverLabel, err)
	}
	return nil
}

// ResolveDialector maps a database URL onto a GORM dialector and driver label.
func ResolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("session_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("session_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("session_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("session_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
