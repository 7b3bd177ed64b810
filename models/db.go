package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// OpenMySQL opens a pooled connection and layers GORM on top of it.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{Conn: db}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("gorm init: %w", err)
	}
	return gormDB, nil
}

// Migrate creates or updates the projects table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Project{})
}

// ProjectStore is the single source of truth for pipeline progress. Writes
// touch only the named columns; an update against a row that no longer
// exists (deleted mid-run) is a silent no-op.
type ProjectStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewProjectStore(db *gorm.DB) *ProjectStore {
	return &ProjectStore{db: db, now: time.Now}
}

func (s *ProjectStore) Create(ctx context.Context, params CreateParams) (*Project, error) {
	now := s.now()
	p := &Project{
		ID:        uuid.NewString(),
		Topic:     params.Topic,
		Style:     params.Style,
		Language:  params.Language,
		Format:    params.Format,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *ProjectStore) Get(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// List returns every project, newest first.
func (s *ProjectStore) List(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// UpdateStatus sets status and, when videoURL is non-empty, video_url.
func (s *ProjectStore) UpdateStatus(ctx context.Context, id string, status Status, videoURL string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	updates := map[string]interface{}{"status": status}
	if videoURL != "" {
		updates["video_url"] = videoURL
	}
	return s.update(ctx, id, updates)
}

// UpdatePartial merges one stage output into the row.
func (s *ProjectStore) UpdatePartial(ctx context.Context, id string, out StageOutput) error {
	if out == nil {
		return errors.New("nil stage output")
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("invalid %T: %w", out, err)
	}
	return s.update(ctx, id, out.columns())
}

// MarkFailed records the diagnostic and moves the project to failed.
func (s *ProjectStore) MarkFailed(ctx context.Context, id string, diagnostic string) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":        StatusFailed,
		"error_message": diagnostic,
	})
}

// ResetForRetry puts the project back in the queue keeping every stage output.
func (s *ProjectStore) ResetForRetry(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":        StatusQueued,
		"error_message": "",
	})
}

func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Project{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

func (s *ProjectStore) update(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updated_at"] = s.now()
	err := s.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update project %s: %w", id, err)
	}
	return nil
}
