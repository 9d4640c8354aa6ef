package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aniladanir/wa-inbox/internal/domain"
	messageRepo "github.com/aniladanir/wa-inbox/internal/repository/message"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const localIDPrefix = "local-"

var ErrInvalidStatus = errors.New("invalid status, use: sent, delivered or read")

type OutcomeKind int

const (
	OutcomeRejected OutcomeKind = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeStatusUpdated
	OutcomeNotFound
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeStatusUpdated:
		return "status_updated"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "rejected"
	}
}

// Outcome is the result of ingesting one payload. Message is set only when the store changed.
type Outcome struct {
	Kind    OutcomeKind
	Message domain.Message
	Reason  string
}

// Changed reports whether subscribers should hear about this outcome
func (o Outcome) Changed() bool {
	return o.Kind == OutcomeCreated || o.Kind == OutcomeUpdated || o.Kind == OutcomeStatusUpdated
}

type Option func(*Ingestor)

// WithClock replaces the ingestion clock used for missing timestamps
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// WithIDGenerator replaces the generator of local message ids
func WithIDGenerator(gen func() string) Option {
	return func(i *Ingestor) { i.newID = gen }
}

// Ingestor turns normalized payloads into store operations. It does not notify anyone;
// callers decide what to do with the outcome.
type Ingestor struct {
	repo       messageRepo.Repository
	normalizer *Normalizer
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

func NewIngestor(repo messageRepo.Repository, logger *slog.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		repo:       repo,
		normalizer: NewNormalizer(logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      newLocalID,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Ingestor) Normalizer() *Normalizer {
	return i.normalizer
}

// Ingest normalizes raw and applies it. The error is non-nil only for store failures.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte) (Outcome, error) {
	return i.Apply(ctx, i.normalizer.Normalize(raw))
}

func (i *Ingestor) Apply(ctx context.Context, n Normalized) (Outcome, error) {
	switch n.Kind {
	case KindStatus:
		return i.applyStatus(ctx, n)
	case KindMessage:
		return i.applyMessage(ctx, n)
	default:
		i.logger.Info("skipping payload", "reason", n.Reason)
		return Outcome{Kind: OutcomeRejected, Reason: n.Reason}, nil
	}
}

func (i *Ingestor) applyStatus(ctx context.Context, n Normalized) (Outcome, error) {
	if n.MessageID == "" || n.Status == "" {
		i.logger.Info("skipping status update without message id or status", "msgId", n.MessageID)
		return Outcome{Kind: OutcomeRejected, Reason: "missing message id or status"}, nil
	}

	if _, err := i.repo.FindByMessageID(ctx, n.MessageID); err != nil {
		if errors.Is(err, messageRepo.ErrNotFound) {
			i.logger.Info("status update for unknown message", "msgId", n.MessageID)
			return Outcome{Kind: OutcomeNotFound, Reason: "message not found"}, nil
		}
		return Outcome{}, fmt.Errorf("failed to look up message %s: %w", n.MessageID, err)
	}

	msg, err := i.repo.UpdateStatus(ctx, n.MessageID, n.Status)
	if err != nil {
		if errors.Is(err, messageRepo.ErrNotFound) {
			return Outcome{Kind: OutcomeNotFound, Reason: "message not found"}, nil
		}
		return Outcome{}, fmt.Errorf("failed to update status of %s: %w", n.MessageID, err)
	}

	i.logger.Info("message status updated", "msgId", msg.MessageID, "status", msg.Status)
	return Outcome{Kind: OutcomeStatusUpdated, Message: msg}, nil
}

func (i *Ingestor) applyMessage(ctx context.Context, n Normalized) (Outcome, error) {
	if n.WaID == "" || n.Text == "" {
		i.logger.Info("skipping payload - missing wa_id or text", "waId", n.WaID, "hasText", n.Text != "")
		return Outcome{Kind: OutcomeRejected, Reason: "missing wa_id or text"}, nil
	}

	msg := domain.Message{
		MessageID: n.MessageID,
		WaID:      n.WaID,
		Name:      n.Name,
		Number:    n.Number,
		Direction: n.Direction,
		Text:      n.Text,
		Timestamp: n.Timestamp,
		Status:    n.Status,
		Raw:       datatypes.JSON(n.Raw),
	}
	if msg.MessageID == "" {
		msg.MessageID = i.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = i.now()
	}
	if msg.Direction == "" {
		msg.Direction = domain.DirectionInbound
	}
	if msg.Status == "" {
		msg.Status = domain.StatusSent
	}

	kind := OutcomeCreated
	if _, err := i.repo.FindByMessageID(ctx, msg.MessageID); err == nil {
		kind = OutcomeUpdated
	} else if !errors.Is(err, messageRepo.ErrNotFound) {
		return Outcome{}, fmt.Errorf("failed to look up message %s: %w", msg.MessageID, err)
	}

	if err := i.repo.UpsertByMessageID(ctx, &msg); err != nil {
		return Outcome{}, fmt.Errorf("failed to upsert message %s: %w", msg.MessageID, err)
	}

	i.logger.Info("message stored", "msgId", msg.MessageID, "waId", msg.WaID, "outcome", kind.String())
	return Outcome{Kind: kind, Message: msg}, nil
}

// SetStatus is the manual status edit. Unlike webhook updates it only accepts sent, delivered
// and read.
func (i *Ingestor) SetStatus(ctx context.Context, msgID string, status string) (domain.Message, error) {
	st, ok := domain.ParseStatus(status)
	if !ok || !domain.IsManualStatus(st) {
		return domain.Message{}, ErrInvalidStatus
	}

	msg, err := i.repo.UpdateStatus(ctx, msgID, st)
	if err != nil {
		return domain.Message{}, err
	}

	i.logger.Info("message status set manually", "msgId", msgID, "status", st)
	return msg, nil
}

// newLocalID derives a time ordered id that can not collide with WhatsApp's wamid values
func newLocalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return localIDPrefix + uuid.NewString()
	}
	return localIDPrefix + id.String()
}
