package routine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gridhabit/gridhabit/pkg/bandit"
	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

// experimentParam is the bookkeeping entry the learner keeps inside a
// routine's params between cycles.
const experimentParam = "_experiment"

// VariantsPerCycle is how many mutated parameter sets compete each cycle.
const VariantsPerCycle = 3

// Learner closes the loop on learning-enabled routines: each cycle it scores
// the variant applied last cycle against the realized savings, then lets the
// bandit pick the next variant to apply.
type Learner struct {
	db       storage.Database
	eval     *Evaluator
	selector *bandit.Selector
	rng      *rand.Rand
}

// NewLearner creates a Learner. A nil selector gets an in-memory one.
func NewLearner(db storage.Database, eval *Evaluator, selector *bandit.Selector) *Learner {
	if selector == nil {
		selector = bandit.NewSelector(nil, nil)
	}
	return &Learner{
		db:       db,
		eval:     eval,
		selector: selector,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the mutation rng. Test hook.
func (l *Learner) SetRand(rng *rand.Rand) {
	l.rng = rng
}

// Tick runs one learning cycle for every user. Failures are isolated per
// automation.
func (l *Learner) Tick(ctx context.Context) error {
	users, err := l.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, userID := range users {
		settings, _, err := l.db.GetSettings(ctx, userID)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "learner failed to get settings",
				slog.String("userID", userID), slog.Any("error", err))
			continue
		}
		if settings.Pause {
			continue
		}
		automations, err := l.db.ListAutomations(ctx, userID)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "learner failed to list automations",
				slog.String("userID", userID), slog.Any("error", err))
			continue
		}
		for _, a := range automations {
			if !a.Enabled || a.Learning == nil || !a.Learning.Enabled || len(a.Learning.Mutation.Fields) == 0 {
				continue
			}
			if err := l.Cycle(ctx, userID, a, settings.EvalWindowDays); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "learning cycle failed",
					slog.String("automationID", a.ID), slog.Any("error", err))
			}
		}
	}
	return nil
}

// Cycle scores the previous variant and applies the next one.
func (l *Learner) Cycle(ctx context.Context, userID string, a types.Automation, windowDays int) error {
	report, err := l.eval.Evaluate(ctx, userID, a, windowDays, 0)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	// settle the previous cycle's bet
	if exp, ok := a.Params[experimentParam].(map[string]any); ok {
		arm, armOK := asFloat(exp["arm"])
		baseline, baseOK := asFloat(exp["baselinePct"])
		if armOK && baseOK {
			success := report.SavingsPct >= baseline
			if err := l.selector.Record(ctx, a.ID, int(arm), success); err != nil {
				return fmt.Errorf("record arm outcome: %w", err)
			}
			log.Ctx(ctx).InfoContext(ctx, "scored routine variant",
				slog.String("automationID", a.ID),
				slog.Int("arm", int(arm)),
				slog.Bool("success", success),
				slog.Float64("savingsPct", report.SavingsPct),
				slog.Float64("baselinePct", baseline))
		}
	}

	variants := Variants(a, VariantsPerCycle, l.rng)
	if len(variants) == 0 {
		return nil
	}
	idx, err := l.selector.Select(ctx, a.ID, len(variants))
	if err != nil {
		return fmt.Errorf("select variant: %w", err)
	}

	a.Params = variants[idx].Params
	if a.Params == nil {
		a.Params = map[string]any{}
	}
	a.Params[experimentParam] = map[string]any{
		"arm":         float64(idx),
		"baselinePct": report.SavingsPct,
	}
	if err := l.db.UpdateAutomation(ctx, a); err != nil {
		return fmt.Errorf("update automation: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "applied routine variant",
		slog.String("automationID", a.ID), slog.Int("arm", idx))
	return nil
}
