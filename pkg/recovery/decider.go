package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/raycarroll/shipctl/pkg/models"
)

// Decider chooses the next recovery action for a failed rollout. attempt
// starts at 1 for the first failure of a run.
type Decider interface {
	Decide(ctx context.Context, verdict models.EventVerdict, attempt int) (models.RecoveryAction, error)
}

// PromptDecider asks the operator through an interactive terminal menu.
type PromptDecider struct{}

// Decide implements Decider. Interrupting the prompt counts as Abort.
func (PromptDecider) Decide(ctx context.Context, verdict models.EventVerdict, attempt int) (models.RecoveryAction, error) {
	options := make([]huh.Option[models.RecoveryAction], 0, len(models.RecoveryActions))
	for _, a := range models.RecoveryActions {
		options = append(options, huh.NewOption(a.Label(), a))
	}

	choice := models.ActionAbort
	title := fmt.Sprintf("Rollout failed on pod %s (attempt %d). What next?", verdict.PodName, attempt)
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[models.RecoveryAction]().
			Title(title).
			Options(options...).
			Value(&choice),
	))

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return models.ActionAbort, nil
		}
		return "", fmt.Errorf("recovery prompt: %w", err)
	}
	return choice, nil
}

// PolicyDecider replays a fixed action sequence and aborts once it runs
// out, e.g. {Redeploy} means "retry once then abort".
type PolicyDecider struct {
	actions []models.RecoveryAction
}

// NewPolicyDecider creates a scripted decider.
func NewPolicyDecider(actions ...models.RecoveryAction) *PolicyDecider {
	return &PolicyDecider{actions: actions}
}

// ParsePolicy builds a PolicyDecider from action names such as
// "redeploy" or "resync-secrets".
func ParsePolicy(names []string) (*PolicyDecider, error) {
	actions := make([]models.RecoveryAction, 0, len(names))
	for _, n := range names {
		a, err := models.ParseRecoveryAction(n)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return NewPolicyDecider(actions...), nil
}

// Decide implements Decider.
func (p *PolicyDecider) Decide(_ context.Context, _ models.EventVerdict, attempt int) (models.RecoveryAction, error) {
	if attempt < 1 || attempt > len(p.actions) {
		return models.ActionAbort, nil
	}
	return p.actions[attempt-1], nil
}
