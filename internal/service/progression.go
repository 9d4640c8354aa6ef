package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aniladanir/wa-inbox/internal/domain"
	"github.com/aniladanir/wa-inbox/internal/ingest"
)

// SimulateStatusProgression picks outbound messages still marked sent and schedules them to
// move to delivered and then read. It returns the number of messages scheduled without
// waiting for the transitions. After Stop it returns ErrStopped.
func (s *service) SimulateStatusProgression(ctx context.Context) (int, error) {
	msgs, err := s.messageRepo.ListByDirectionStatus(ctx, domain.DirectionOutbound, domain.StatusSent, s.progression.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find outbound messages: %w", err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.stopCtx.Err() != nil {
		return 0, ErrStopped
	}

	for _, msg := range msgs {
		msgID := msg.MessageID
		s.wg.Go(func() {
			s.progress(msgID)
		})
	}

	s.logger.Info("status progression scheduled", "messages", len(msgs))
	return len(msgs), nil
}

func (s *service) progress(msgID string) {
	start := time.Now()
	steps := []struct {
		at     time.Duration
		status domain.Status
	}{
		{s.progression.DeliveredAfter, domain.StatusDelivered},
		{s.progression.ReadAfter, domain.StatusRead},
	}

	for _, step := range steps {
		timer := time.NewTimer(time.Until(start.Add(step.at)))
		select {
		case <-s.stopCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		outcome, err := s.ingestor.Apply(s.stopCtx, ingest.Normalized{
			Kind:      ingest.KindStatus,
			MessageID: msgID,
			Status:    step.status,
		})
		if err != nil {
			s.logger.Error("simulated status update failed", "msgId", msgID, "status", step.status, "error", err.Error())
			return
		}
		if !outcome.Changed() {
			// message deleted in the meantime
			return
		}
		s.notifier.Notify(s.stopCtx, outcome.Message)
	}
}
