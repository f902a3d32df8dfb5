// Package storage persists client state in a local SQLite database: the
// auth token, the cached user profile and the history of finished
// sessions.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"interviewcoach/internal/domain"
)

const (
	keyAuthToken = "auth_token"
	keyProfile   = "user_profile"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrNoToken  = errors.New("not logged in")
)

// Store is the SQLite-backed client state.
type Store struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Options configures Open.
type Options struct {
	// Debug logs every query at debug level.
	Debug bool
}

// Open creates or opens the database at path. A leading ~ expands to the
// home directory; ":memory:" opens a private in-memory database.
func Open(path string, log logrus.FieldLogger, opts Options) (*Store, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	log = log.WithField("component", "storage")

	dsn, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  newGormLogger(log, opts.Debug),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dsn == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	} else {
		db.Exec("PRAGMA journal_mode=WAL")
	}
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA synchronous=NORMAL")

	if err := db.AutoMigrate(&SettingModel{}, &SessionRecordModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

func resolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("storage path is empty")
	}
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return path, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) setting(ctx context.Context, key string) (string, error) {
	var row SettingModel
	err := s.db.WithContext(ctx).Where(&SettingModel{Key: key}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *Store) putSetting(ctx context.Context, key, value string) error {
	row := SettingModel{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteSetting(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where(&SettingModel{Key: key}).Delete(&SettingModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// SaveToken stores the bearer token used for the backend.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	return s.putSetting(ctx, keyAuthToken, token)
}

// StoredToken returns the saved token or ErrNoToken.
func (s *Store) StoredToken(ctx context.Context) (string, error) {
	token, err := s.setting(ctx, keyAuthToken)
	if errors.Is(err, ErrNotFound) || (err == nil && token == "") {
		return "", ErrNoToken
	}
	return token, err
}

// Logout forgets the token and the cached profile.
func (s *Store) Logout(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Where(map[string]any{"key": []string{keyAuthToken, keyProfile}}).
		Delete(&SettingModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

func (s *Store) SaveProfile(ctx context.Context, profile domain.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return s.putSetting(ctx, keyProfile, string(data))
}

// Profile returns the cached profile or ErrNotFound.
func (s *Store) Profile(ctx context.Context) (domain.UserProfile, error) {
	raw, err := s.setting(ctx, keyProfile)
	if err != nil {
		return domain.UserProfile{}, err
	}
	var profile domain.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		s.log.WithError(err).Warn("discarding unreadable cached profile")
		_ = s.deleteSetting(ctx, keyProfile)
		return domain.UserProfile{}, ErrNotFound
	}
	return profile, nil
}

// RecordSession inserts or replaces a history entry.
func (s *Store) RecordSession(ctx context.Context, record domain.SessionRecord) error {
	if strings.TrimSpace(record.SessionID) == "" {
		return errors.New("session id is required")
	}
	model, err := toModel(record)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", record.SessionID, err)
	}
	s.log.WithField("session", record.SessionID).Debug("session recorded")
	return nil
}

// History lists recorded sessions, newest first. limit <= 0 returns all.
func (s *Store) History(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	query := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []SessionRecordModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	records := make([]domain.SessionRecord, 0, len(models))
	for _, m := range models {
		records = append(records, fromModel(m))
	}
	return records, nil
}

// HistoryEntry returns one recorded session or ErrNotFound.
func (s *Store) HistoryEntry(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	var model SessionRecordModel
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return fromModel(model), nil
}

// DeleteHistory removes a recorded session. Missing entries are not an
// error.
func (s *Store) DeleteHistory(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&SessionRecordModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func toModel(record domain.SessionRecord) (SessionRecordModel, error) {
	model := SessionRecordModel{
		SessionID:     record.SessionID,
		Position:      record.Position,
		Status:        string(record.Status),
		StartedAt:     record.StartedAt.UTC(),
		EndedAt:       record.EndedAt.UTC(),
		QuestionCount: record.QuestionCount,
		AnswersSent:   record.AnswersSent,
	}
	if model.Status == "" {
		model.Status = string(domain.StatusCompleted)
	}
	if fb := record.Feedback; fb != nil {
		score := fb.OverallScore
		model.OverallScore = &score

		// Keep the backend's full object when we have it.
		var payload any = fb
		if len(fb.Raw) > 0 {
			payload = fb.Raw
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return SessionRecordModel{}, fmt.Errorf("failed to encode feedback: %w", err)
		}
		model.FeedbackJSON = string(data)
	}
	return model, nil
}

func fromModel(model SessionRecordModel) domain.SessionRecord {
	record := domain.SessionRecord{
		SessionID:     model.SessionID,
		Position:      model.Position,
		Status:        domain.SessionStatus(model.Status),
		StartedAt:     model.StartedAt,
		EndedAt:       model.EndedAt,
		QuestionCount: model.QuestionCount,
		AnswersSent:   model.AnswersSent,
	}
	if model.FeedbackJSON != "" {
		var fb domain.Feedback
		if err := json.Unmarshal([]byte(model.FeedbackJSON), &fb); err == nil {
			var raw map[string]any
			if json.Unmarshal([]byte(model.FeedbackJSON), &raw) == nil {
				fb.Raw = raw
			}
			record.Feedback = &fb
		}
	}
	if record.Feedback == nil && model.OverallScore != nil {
		record.Feedback = &domain.Feedback{OverallScore: *model.OverallScore}
	}
	return record
}
