package upload

import (
	"context"
	"errors"
	"time"

	"github.com/Gammanik/chunked-storage/internal/metastore"
)

// RecoveryReport итог одного прохода janitor
type RecoveryReport struct {
	Superseded int // Сессии, уже собранные в объект
	Expired    int // Брошенные сессии старше SessionTTL
	Kept       int // Активные сессии
}

// Recover просматривает открытые сессии: удаляет чанки уже собранных объектов
// и брошенные сессии старше SessionTTL.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	sessions, err := s.chunks.ListSessions(ctx)
	if err != nil {
		return report, err
	}

	now := s.clock.Now()
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		action, err := s.recoverSession(ctx, session, now)
		if err != nil {
			s.logger.WarnContext(ctx, "recovery failed", "uploadId", session.UploadID, "error", err)
			continue
		}

		switch action {
		case actionSuperseded:
			report.Superseded++
		case actionExpired:
			report.Expired++
		default:
			report.Kept++
		}
	}

	if report.Superseded > 0 || report.Expired > 0 {
		s.logger.InfoContext(ctx, "recovery finished",
			"superseded", report.Superseded,
			"expired", report.Expired,
			"kept", report.Kept,
		)
	}
	return report, nil
}

type recoveryAction int

const (
	actionKept recoveryAction = iota
	actionSuperseded
	actionExpired
)

func (s *Service) recoverSession(ctx context.Context, session metastore.SessionInfo, now time.Time) (recoveryAction, error) {
	unlock := s.locks.Lock(session.UploadID)
	defer unlock()

	_, err := s.catalog.FindByUploadID(ctx, session.UploadID)
	switch {
	case err == nil:
		if _, err := s.chunks.DeleteChunks(ctx, session.UploadID); err != nil {
			return actionKept, err
		}
		return actionSuperseded, nil
	case !errors.Is(err, metastore.ErrNotFound):
		return actionKept, err
	}

	if s.opts.SessionTTL > 0 && now.Sub(session.LastSeen) > s.opts.SessionTTL {
		deleted, err := s.chunks.DeleteChunks(ctx, session.UploadID)
		if err != nil {
			return actionKept, err
		}
		s.logger.InfoContext(ctx, "abandoned upload expired",
			"uploadId", session.UploadID,
			"deletedChunks", deleted,
			"lastSeen", session.LastSeen,
		)
		return actionExpired, nil
	}

	return actionKept, nil
}

// RunJanitor выполняет Recover сразу и затем каждые interval до отмены ctx
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if _, err := s.Recover(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "recovery pass failed", "error", err)
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Recover(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "recovery pass failed", "error", err)
			}
		}
	}
}
