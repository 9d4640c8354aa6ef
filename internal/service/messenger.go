package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aniladanir/wa-inbox/internal/conversation"
	"github.com/aniladanir/wa-inbox/internal/domain"
	"github.com/aniladanir/wa-inbox/internal/ingest"
	"github.com/aniladanir/wa-inbox/internal/notify"
	messageRepo "github.com/aniladanir/wa-inbox/internal/repository/message"
)

var (
	// ErrInvalidMessage is returned by SendMessage when wa_id or text is missing
	ErrInvalidMessage = errors.New("wa_id and text required")
	// ErrStopped is returned when background work is requested after Stop
	ErrStopped = errors.New("messenger is stopped")
)

type Messenger interface {
	Ingest(ctx context.Context, raw []byte) (ingest.Outcome, error)
	IngestBatch(ctx context.Context, raws []json.RawMessage) (int, error)
	SendMessage(ctx context.Context, req SendRequest) (domain.Message, error)
	SetStatus(ctx context.Context, msgID string, status string) (domain.Message, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, waID string) ([]domain.Message, error)
	SimulateStatusProgression(ctx context.Context) (int, error)
	Stop()
}

// SendRequest is the body of an outbound message typed in the UI
type SendRequest struct {
	WaID   string `json:"wa_id"`
	Text   string `json:"text"`
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
}

// Progression controls the demo status simulator
type Progression struct {
	DeliveredAfter time.Duration
	ReadAfter      time.Duration
	BatchSize      int
}

// DefaultProgression moves messages to delivered after 2s and to read after 5s
var DefaultProgression = Progression{
	DeliveredAfter: 2 * time.Second,
	ReadAfter:      5 * time.Second,
	BatchSize:      5,
}

type service struct {
	messageRepo messageRepo.Repository
	ingestor    *ingest.Ingestor
	notifier    notify.Notifier
	logger      *slog.Logger
	progression Progression

	// bounds timers started by the simulator
	stopCtx    context.Context
	stopCancel context.CancelFunc

	// guards scheduling against Stop so wg is never added to while it is waited on
	mtx sync.Mutex
	wg  sync.WaitGroup
}

func NewMessengerService(messageRepo messageRepo.Repository, ingestor *ingest.Ingestor, notifier notify.Notifier, logger *slog.Logger, progression Progression) Messenger {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if progression.BatchSize <= 0 {
		progression.BatchSize = DefaultProgression.BatchSize
	}

	stopCtx, stopCancel := context.WithCancel(context.Background())
	return &service{
		messageRepo: messageRepo,
		ingestor:    ingestor,
		notifier:    notifier,
		logger:      logger,
		progression: progression,
		stopCtx:     stopCtx,
		stopCancel:  stopCancel,
	}
}

// Ingest applies one webhook payload and broadcasts the result if anything changed
func (s *service) Ingest(ctx context.Context, raw []byte) (ingest.Outcome, error) {
	outcome, err := s.ingestor.Ingest(ctx, raw)
	if err != nil {
		return ingest.Outcome{}, err
	}
	if outcome.Changed() {
		s.notifier.Notify(ctx, outcome.Message)
	}
	return outcome, nil
}

// IngestBatch applies payloads in order and returns how many of them changed a message.
// Rejected payloads are skipped; a store failure stops the batch.
func (s *service) IngestBatch(ctx context.Context, raws []json.RawMessage) (int, error) {
	processed := 0
	for idx, raw := range raws {
		outcome, err := s.Ingest(ctx, raw)
		if err != nil {
			return processed, fmt.Errorf("payload %d: %w", idx, err)
		}
		if outcome.Changed() {
			processed++
		}
	}
	return processed, nil
}

// SendMessage stores an outbound message with status sent and the current time
func (s *service) SendMessage(ctx context.Context, req SendRequest) (domain.Message, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to encode request: %w", err)
	}

	outcome, err := s.ingestor.Apply(ctx, ingest.Normalized{
		Kind:      ingest.KindMessage,
		WaID:      req.WaID,
		Name:      req.Name,
		Number:    req.Number,
		Text:      req.Text,
		Direction: domain.DirectionOutbound,
		Status:    domain.StatusSent,
		Raw:       raw,
	})
	if err != nil {
		return domain.Message{}, err
	}
	if outcome.Kind == ingest.OutcomeRejected {
		return domain.Message{}, ErrInvalidMessage
	}

	s.notifier.Notify(ctx, outcome.Message)
	return outcome.Message, nil
}

func (s *service) SetStatus(ctx context.Context, msgID string, status string) (domain.Message, error) {
	msg, err := s.ingestor.SetStatus(ctx, msgID, status)
	if err != nil {
		return domain.Message{}, err
	}
	s.notifier.Notify(ctx, msg)
	return msg, nil
}

func (s *service) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	msgs, err := s.messageRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return conversation.Aggregate(msgs), nil
}

func (s *service) ListMessages(ctx context.Context, waID string) ([]domain.Message, error) {
	msgs, err := s.messageRepo.ListByConversation(ctx, waID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", waID, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// Stop cancels pending simulated status changes and waits for them to exit
func (s *service) Stop() {
	s.mtx.Lock()
	s.stopCancel()
	s.mtx.Unlock()

	s.wg.Wait()
}
