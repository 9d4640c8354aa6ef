package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aniladanir/wa-inbox/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("message not found")

// Repository stores messages keyed by their message id.
type Repository interface {
	FindByMessageID(ctx context.Context, msgID string) (domain.Message, error)
	UpsertByMessageID(ctx context.Context, msg *domain.Message) error
	UpdateStatus(ctx context.Context, msgID string, status domain.Status) (domain.Message, error)
	ListAll(ctx context.Context) ([]domain.Message, error)
	ListByConversation(ctx context.Context, waID string) ([]domain.Message, error)
	ListByDirectionStatus(ctx context.Context, dir domain.Direction, status domain.Status, limit int) ([]domain.Message, error)
	Count(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) error
}

type repo struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

// FindByMessageID returns ErrNotFound when no message carries the given id
func (r *repo) FindByMessageID(ctx context.Context, msgID string) (domain.Message, error) {
	var msg domain.Message
	err := r.db.WithContext(ctx).Where("msg_id = ?", msgID).Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, ErrNotFound
	}
	return msg, err
}

// UpsertByMessageID inserts the message or replaces the stored fields of the row with the same
// message id. The write is a single INSERT .. ON CONFLICT statement so concurrent callers on the
// same id never observe a half written row.
func (r *repo) UpsertByMessageID(ctx context.Context, msg *domain.Message) error {
	now := time.Now().UTC()
	msg.UpdatedAt = now
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	// let the database assign the sequence on insert, conflicts keep the existing one
	msg.ID = 0

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "msg_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"wa_id", "name", "number", "direction", "text", "timestamp", "status", "raw", "updated_at",
		}),
	}).Create(msg).Error
	if err != nil {
		return err
	}

	stored, err := r.FindByMessageID(ctx, msg.MessageID)
	if err != nil {
		return err
	}
	*msg = stored
	return nil
}

// UpdateStatus changes only the delivery status and the modification time
func (r *repo) UpdateStatus(ctx context.Context, msgID string, status domain.Status) (domain.Message, error) {
	res := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("msg_id = ?", msgID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.Message{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Message{}, ErrNotFound
	}
	return r.FindByMessageID(ctx, msgID)
}

// ListAll returns every message in insertion order
func (r *repo) ListAll(ctx context.Context) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.WithContext(ctx).Order("id ASC").Find(&messages).Error
	return messages, err
}

// ListByConversation returns the messages of one conversation, oldest first
func (r *repo) ListByConversation(ctx context.Context, waID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("wa_id = ?", waID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *repo) ListByDirectionStatus(ctx context.Context, dir domain.Direction, status domain.Status, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("direction = ? AND status = ?", dir, status).
		Order("id ASC").Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *repo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Message{}).Count(&n).Error
	return n, err
}

// DeleteAll wipes the table. It exists for the seeding tool only.
func (r *repo) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.Message{}).Error
}
