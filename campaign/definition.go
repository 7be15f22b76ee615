// Package campaign defines campaign blueprints and the sequencer that
// walks recipients through them step by step, driven by work item
// resolutions rather than a periodic scan.
package campaign

import (
	"fmt"
	"time"

	"github.com/cadencehq/cadence/id"
)

// Condition gates whether a follow-up step runs, evaluated against
// engagement recorded for the immediately preceding step.
type Condition string

const (
	// ConditionAlways runs the step unconditionally.
	ConditionAlways Condition = "always"
	// ConditionNotOpened runs the step only if the previous step's
	// message was never opened.
	ConditionNotOpened Condition = "only_if_not_opened"
	// ConditionOpenedNotClicked runs the step only if the previous
	// step's message was opened but no tracked link was clicked.
	ConditionOpenedNotClicked Condition = "only_if_opened_not_clicked"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionAlways, ConditionNotOpened, ConditionOpenedNotClicked:
		return true
	}
	return false
}

// StepSpec describes one step of a campaign sequence.
type StepSpec struct {
	// StepKey identifies the step within the campaign. Unique per
	// definition.
	StepKey string `json:"step_key"`

	// DelayFromPrevious is how long after the previous step's
	// resolution this step becomes due. Ignored for the first step.
	DelayFromPrevious time.Duration `json:"delay_from_previous"`

	// TemplateID selects the message template.
	TemplateID id.TemplateID `json:"template_id"`

	// Priority is carried onto the work item. Higher claims first.
	Priority int `json:"priority"`

	// Condition gates the step. Empty means always.
	Condition Condition `json:"condition"`

	// MaxAttempts overrides the engine default when positive.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// Definition is an immutable campaign blueprint. Register it once;
// the sequencer reads it concurrently without locking.
type Definition struct {
	ID     id.CampaignID `json:"id"`
	Name   string        `json:"name"`
	Active bool          `json:"active"`

	// RespectBusinessDays restricts scheduling to Monday through Friday.
	RespectBusinessDays bool `json:"respect_business_days"`

	Steps []StepSpec `json:"steps"`
}

// Validate checks the definition is well formed.
func (d *Definition) Validate() error {
	if d.ID.IsNil() {
		return fmt.Errorf("campaign %q: missing id", d.Name)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("campaign %q: no steps", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		if step.StepKey == "" {
			return fmt.Errorf("campaign %q: step %d has empty key", d.Name, i)
		}
		if _, dup := seen[step.StepKey]; dup {
			return fmt.Errorf("campaign %q: duplicate step key %q", d.Name, step.StepKey)
		}
		seen[step.StepKey] = struct{}{}

		if step.TemplateID.IsNil() {
			return fmt.Errorf("campaign %q: step %q has no template", d.Name, step.StepKey)
		}
		if step.Condition != "" && !step.Condition.Valid() {
			return fmt.Errorf("campaign %q: step %q has unknown condition %q", d.Name, step.StepKey, step.Condition)
		}
		if i > 0 && step.DelayFromPrevious < 0 {
			return fmt.Errorf("campaign %q: step %q has negative delay", d.Name, step.StepKey)
		}
	}

	return nil
}

// FirstStep returns the first step of the sequence.
func (d *Definition) FirstStep() (StepSpec, bool) {
	if len(d.Steps) == 0 {
		return StepSpec{}, false
	}
	return d.Steps[0], true
}

// NextAfter returns the step following the given key, or false when the
// key is the last step or unknown.
func (d *Definition) NextAfter(stepKey string) (StepSpec, bool) {
	for i, step := range d.Steps {
		if step.StepKey == stepKey {
			if i+1 < len(d.Steps) {
				return d.Steps[i+1], true
			}
			return StepSpec{}, false
		}
	}
	return StepSpec{}, false
}

// StepByKey returns the step with the given key.
func (d *Definition) StepByKey(stepKey string) (StepSpec, bool) {
	for _, step := range d.Steps {
		if step.StepKey == stepKey {
			return step, true
		}
	}
	return StepSpec{}, false
}
