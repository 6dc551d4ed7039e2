package ledger

import (
	"context"
	"log/slog"
)

// saveLocked writes the whole ledger through the gateway. Callers hold s.mu.
func (s *Service) saveLocked(ctx context.Context, op string) error {
	ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()

	if err := s.gateway.Save(ctx, s.snapshotLocked()); err != nil {
		s.dirty = true
		s.logger.Error("Failed to save ledger snapshot",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return &PersistenceError{Op: op, Applied: true, Err: err}
	}

	s.dirty = false
	return nil
}

// Sync saves the ledger if an earlier save failed. It is a no-op otherwise.
func (s *Service) Sync(ctx context.Context) error {
	const op = "ledger.Sync"

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	if err := s.saveLocked(ctx, op); err != nil {
		return err
	}

	s.logger.Info("Ledger snapshot caught up with memory")
	return nil
}
