/*
process.go - Conversion Process State Machine

STATES:

	           Complete
	pending ───────────→ completed
	   │
	   │ Cancel
	   └───────────────→ cancelled

  Both branches are terminal. Every transition moves stock through the
  StockLedger in the same transaction that flips the status.

KINDS:
  boiling  output variety is the input variety; the shortfall
           (input - returned) is recorded as Missing and must later be
           itemized by loss reason; an optional cost may be recorded
  milling  output variety is chosen at completion and must exist; no
           missing-quantity concept; no cost
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROCESS RULES
// =============================================================================

type processRule struct {
	sameOutput    bool
	tracksMissing bool
	costAllowed   bool
}

var processRules = map[ProcessKind]processRule{
	ProcessBoiling: {sameOutput: true, tracksMissing: true, costAllowed: true},
	ProcessMilling: {},
}

func processRuleFor(kind ProcessKind) (processRule, error) {
	rule, ok := processRules[kind]
	if !ok {
		return processRule{}, validationf("unknown process kind %q", kind)
	}
	return rule, nil
}

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

type CreateProcessInput struct {
	Kind           ProcessKind
	InputVarietyID string
	Quantity       decimal.Decimal
	Actor          string
}

type CompleteProcessInput struct {
	ProcessID        string
	OutputVarietyID  string // milling only; boiling uses the input variety
	ReturnedQuantity decimal.Decimal
	Cost             decimal.NullDecimal // boiling only
	Notes            string
	Actor            string
}

type MissingDetailInput struct {
	Quantity    decimal.Decimal
	Reason      LossReason
	Description string
}

type ReconcileInput struct {
	ProcessID string
	Details   []MissingDetailInput
	Actor     string
}

// ProcessResult is returned by every transition.
type ProcessResult struct {
	Process    ConversionProcess
	Completion *ConversionCompletion
	Adjustment *StockAdjustment // nil when nothing was returned
}

// ProcessDetail is the read model for one process.
type ProcessDetail struct {
	Process        ConversionProcess
	Completion     *ConversionCompletion
	MissingDetails []MissingQuantityDetail
}

// =============================================================================
// PROCESS MACHINE
// =============================================================================

type ProcessMachine struct {
	Stock *StockLedger
	Now   func() time.Time
	NewID func() string
}

// Create dispatches input stock and opens a pending process.
func (m *ProcessMachine) Create(ctx context.Context, tx Tx, in CreateProcessInput) (*ProcessResult, error) {
	if _, err := processRuleFor(in.Kind); err != nil {
		return nil, err
	}
	if in.Actor == "" {
		return nil, validationf("actor is required")
	}
	if !in.Quantity.IsPositive() {
		return nil, validationf("quantity must be greater than zero")
	}

	p := ConversionProcess{
		ID:             m.NewID(),
		Kind:           in.Kind,
		InputVarietyID: in.InputVarietyID,
		InputQuantity:  in.Quantity,
		Status:         ProcessPending,
		CreatedBy:      in.Actor,
		CreatedAt:      m.Now(),
	}
	adj, err := m.Stock.Apply(ctx, tx, Movement{
		VarietyID:   in.InputVarietyID,
		Delta:       in.Quantity.Neg(),
		Reason:      fmt.Sprintf("Sent %s kg for %s", in.Quantity.String(), in.Kind),
		Source:      SourceProcessDispatch,
		ReferenceID: p.ID,
		Actor:       in.Actor,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.InsertProcess(ctx, p); err != nil {
		return nil, err
	}
	return &ProcessResult{Process: p, Adjustment: adj}, nil
}

// loadPending locks the process and checks it can still transition.
func (m *ProcessMachine) loadPending(ctx context.Context, tx Tx, id, action string) (*ConversionProcess, error) {
	p, err := tx.GetProcess(ctx, id, ForUpdate)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound("process", id)
	}
	if p.Status != ProcessPending {
		return nil, invalidStatef("cannot %s process %s: status is %s", action, p.ID, p.Status)
	}
	return p, nil
}

// Complete returns output stock and closes the process.
func (m *ProcessMachine) Complete(ctx context.Context, tx Tx, in CompleteProcessInput) (*ProcessResult, error) {
	if in.Actor == "" {
		return nil, validationf("actor is required")
	}
	p, err := m.loadPending(ctx, tx, in.ProcessID, "complete")
	if err != nil {
		return nil, err
	}
	rule, err := processRuleFor(p.Kind)
	if err != nil {
		return nil, err
	}

	returned := in.ReturnedQuantity
	if returned.IsNegative() || returned.GreaterThan(p.InputQuantity) {
		return nil, validationf("returned quantity must be between 0 and %s kg", p.InputQuantity)
	}
	if !hasScale(returned, QuantityScale) {
		return nil, validationf("returned quantity allows at most %d decimal places", QuantityScale)
	}

	c := ConversionCompletion{
		ID:               m.NewID(),
		ProcessID:        p.ID,
		ReturnedQuantity: returned,
		Notes:            in.Notes,
		CreatedBy:        in.Actor,
		CreatedAt:        m.Now(),
	}

	if rule.sameOutput {
		if in.OutputVarietyID != "" && in.OutputVarietyID != p.InputVarietyID {
			return nil, validationf("%s returns to its input variety", p.Kind)
		}
		c.OutputVarietyID = p.InputVarietyID
	} else {
		if in.OutputVarietyID == "" {
			return nil, validationf("output variety is required for %s", p.Kind)
		}
		out, err := tx.GetVariety(ctx, in.OutputVarietyID, NoLock)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, notFound("variety", in.OutputVarietyID)
		}
		c.OutputVarietyID = out.ID
	}

	if in.Cost.Valid {
		if !rule.costAllowed {
			return nil, validationf("cost is not recorded for %s", p.Kind)
		}
		if in.Cost.Decimal.IsNegative() || !hasScale(in.Cost.Decimal, MoneyScale) {
			return nil, validationf("cost must be a non-negative amount with at most %d decimal places", MoneyScale)
		}
		c.Cost = in.Cost
	}
	if rule.tracksMissing {
		c.Missing = decimal.NewNullDecimal(p.InputQuantity.Sub(returned))
	}

	var adj *StockAdjustment
	if returned.IsPositive() {
		adj, err = m.Stock.Apply(ctx, tx, Movement{
			VarietyID:   c.OutputVarietyID,
			Delta:       returned,
			Reason:      fmt.Sprintf("Received %s kg from %s", returned.String(), p.Kind),
			Source:      SourceProcessReturn,
			ReferenceID: p.ID,
			Actor:       in.Actor,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := tx.InsertCompletion(ctx, c); err != nil {
		return nil, err
	}

	now := c.CreatedAt
	p.Status = ProcessCompleted
	p.CompletedBy = in.Actor
	p.CompletedAt = &now
	if err := tx.UpdateProcess(ctx, *p); err != nil {
		return nil, err
	}
	return &ProcessResult{Process: *p, Completion: &c, Adjustment: adj}, nil
}

// Cancel re-credits the dispatched input and closes the process.
func (m *ProcessMachine) Cancel(ctx context.Context, tx Tx, processID, actor string) (*ProcessResult, error) {
	if actor == "" {
		return nil, validationf("actor is required")
	}
	p, err := m.loadPending(ctx, tx, processID, "cancel")
	if err != nil {
		return nil, err
	}

	adj, err := m.Stock.Apply(ctx, tx, Movement{
		VarietyID:   p.InputVarietyID,
		Delta:       p.InputQuantity,
		Reason:      fmt.Sprintf("Cancelled %s, %s kg restored", p.Kind, p.InputQuantity.String()),
		Source:      SourceProcessCancel,
		ReferenceID: p.ID,
		Actor:       actor,
	})
	if err != nil {
		return nil, err
	}

	now := m.Now()
	p.Status = ProcessCancelled
	p.CancelledBy = actor
	p.CancelledAt = &now
	if err := tx.UpdateProcess(ctx, *p); err != nil {
		return nil, err
	}
	return &ProcessResult{Process: *p, Adjustment: adj}, nil
}

// Reconcile replaces the itemized loss breakdown of a completed boiling. The
// existing set is left untouched when the new one does not add up.
func (m *ProcessMachine) Reconcile(ctx context.Context, tx Tx, in ReconcileInput) ([]MissingQuantityDetail, error) {
	if in.Actor == "" {
		return nil, validationf("actor is required")
	}
	p, err := tx.GetProcess(ctx, in.ProcessID, ForUpdate)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, notFound("process", in.ProcessID)
	}
	rule, err := processRuleFor(p.Kind)
	if err != nil {
		return nil, err
	}
	if !rule.tracksMissing {
		return nil, validationf("%s processes have no missing quantity", p.Kind)
	}
	if p.Status != ProcessCompleted {
		return nil, invalidStatef("process %s must be completed before reconciling, status is %s", p.ID, p.Status)
	}
	c, err := tx.GetCompletion(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if c == nil || !c.Missing.Valid {
		return nil, invalidStatef("process %s has no recorded missing quantity", p.ID)
	}

	now := m.Now()
	sum := decimal.Zero
	details := make([]MissingQuantityDetail, 0, len(in.Details))
	for i, d := range in.Details {
		if !d.Quantity.IsPositive() {
			return nil, validationf("detail %d: quantity must be greater than zero", i+1)
		}
		if !hasScale(d.Quantity, QuantityScale) {
			return nil, validationf("detail %d: quantity allows at most %d decimal places", i+1, QuantityScale)
		}
		if !d.Reason.Valid() {
			return nil, validationf("detail %d: unknown reason %q", i+1, d.Reason)
		}
		sum = sum.Add(d.Quantity)
		details = append(details, MissingQuantityDetail{
			ID:           m.NewID(),
			CompletionID: c.ID,
			Quantity:     d.Quantity,
			Reason:       d.Reason,
			Description:  d.Description,
			CreatedBy:    in.Actor,
			CreatedAt:    now,
		})
	}

	if sum.Sub(c.Missing.Decimal).Abs().GreaterThan(MissingTolerance) {
		return nil, &MissingMismatchError{ProcessID: p.ID, Recorded: c.Missing.Decimal, Itemized: sum}
	}
	if err := tx.ReplaceMissingDetails(ctx, c.ID, details); err != nil {
		return nil, err
	}
	return details, nil
}
