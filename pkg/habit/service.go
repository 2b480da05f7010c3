package habit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

// ErrInvalidTransition is returned when a requested lifecycle transition is
// not allowed from the pattern's current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Service exposes the operator-facing pattern operations. Every mutation
// leaves an audit trail.
type Service struct {
	db storage.Database
}

// NewService creates a Service.
func NewService(db storage.Database) *Service {
	return &Service{db: db}
}

// ManualCreate registers a user-declared pattern directly in the active
// state. The identity is validated; a degenerate trigger==action pattern is
// rejected with no partial write.
func (s *Service) ManualCreate(ctx context.Context, key types.PatternKey) (types.HabitPattern, error) {
	if key.Context == "" {
		key.Context = types.ContextGlobal
	}
	if err := Validate(key); err != nil {
		return types.HabitPattern{}, err
	}
	p, err := s.db.UpdatePattern(ctx, key, func(pt *types.HabitPattern) error {
		if pt.State != "" {
			return fmt.Errorf("pattern already exists")
		}
		pt.State = types.PatternActive
		return nil
	})
	if err != nil {
		return types.HabitPattern{}, err
	}
	s.logEvent(ctx, p.ID, types.LogManualCreate, nil)
	return p, nil
}

// SetState applies an operator lifecycle transition.
func (s *Service) SetState(ctx context.Context, patternID string, to types.PatternState) (types.HabitPattern, error) {
	p, err := s.db.UpdatePatternByID(ctx, patternID, func(pt *types.HabitPattern) error {
		if !CanTransition(pt.State, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, pt.State, to)
		}
		pt.State = to
		return nil
	})
	if err != nil {
		return types.HabitPattern{}, err
	}
	s.logEvent(ctx, p.ID, EventForTransition(to), map[string]any{"to": string(to)})
	return p, nil
}

// Undo records a manual reversal of an automated action. Repeated undos are
// the operator telling us the habit is wrong.
func (s *Service) Undo(ctx context.Context, patternID string) (types.HabitPattern, error) {
	p, err := s.db.UpdatePatternByID(ctx, patternID, func(pt *types.HabitPattern) error {
		pt.UndoCount++
		return nil
	})
	if err != nil {
		return types.HabitPattern{}, err
	}
	s.logEvent(ctx, p.ID, types.LogUndo, map[string]any{"undoCount": p.UndoCount})
	return p, nil
}

// Delete removes a pattern. The audit trail outlives the pattern.
func (s *Service) Delete(ctx context.Context, patternID string) error {
	if err := s.db.DeletePattern(ctx, patternID); err != nil {
		return err
	}
	s.logEvent(ctx, patternID, types.LogDelete, nil)
	return nil
}

func (s *Service) logEvent(ctx context.Context, patternID string, event types.LogEvent, meta map[string]any) {
	if err := s.db.InsertHabitLog(ctx, types.HabitLogEntry{
		PatternID: patternID,
		Event:     event,
		Meta:      meta,
	}); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to insert habit log",
			slog.String("patternID", patternID),
			slog.String("event", string(event)),
			slog.Any("error", err))
	}
}
