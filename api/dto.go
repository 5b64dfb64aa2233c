/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the ledger
  types from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Quantities and amounts are decimal.Decimal. They are written as JSON
  strings ("12.500") and accepted as strings or numbers on input.

VALIDATION:
  Request types carry validator/v10 tags for shape checks (required fields,
  enums, signs). Business rules such as scale limits or paid <= total stay
  in the ledger package.

SEE ALSO:
  - handlers.go: Uses these types
  - validation.go: Custom decimal tags
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ricemill/stock-ledger/ledger"
)

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// VARIETIES AND STOCK
// =============================================================================

type VarietyDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	CurrentStock  decimal.Decimal `json:"current_stock"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
	StockStatus   string          `json:"stock_status"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     string          `json:"created_at"`
}

func toVarietyDTO(v ledger.Variety) VarietyDTO {
	return VarietyDTO{
		ID:            v.ID,
		Name:          v.Name,
		Category:      string(v.Category),
		CurrentStock:  v.CurrentStock,
		MinStockLevel: v.MinStockLevel,
		StockStatus:   string(v.StockStatus()),
		CreatedBy:     v.CreatedBy,
		CreatedAt:     formatTime(v.CreatedAt),
	}
}

type RegisterVarietyRequest struct {
	Name          string          `json:"name" validate:"required,max=255"`
	Category      string          `json:"category" validate:"required,oneof=paddy selling"`
	MinStockLevel decimal.Decimal `json:"min_stock_level" validate:"decimal_gte0"`
	OpeningStock  decimal.Decimal `json:"opening_stock" validate:"decimal_gte0"`
}

type SetMinStockRequest struct {
	MinStockLevel decimal.Decimal `json:"min_stock_level" validate:"decimal_gte0"`
}

type AdjustStockRequest struct {
	Delta decimal.Decimal `json:"delta" validate:"decimal_ne0"`
	Notes string          `json:"notes"`
}

type AdjustmentDTO struct {
	ID            string          `json:"id"`
	VarietyID     string          `json:"variety_id"`
	Delta         decimal.Decimal `json:"delta"`
	PreviousStock decimal.Decimal `json:"previous_stock"`
	NewStock      decimal.Decimal `json:"new_stock"`
	Reason        string          `json:"reason"`
	Source        string          `json:"source"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Actor         string          `json:"actor"`
	CreatedAt     string          `json:"created_at"`
}

func toAdjustmentDTO(a ledger.StockAdjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:            a.ID,
		VarietyID:     a.VarietyID,
		Delta:         a.Delta,
		PreviousStock: a.PreviousStock,
		NewStock:      a.NewStock,
		Reason:        a.Reason,
		Source:        string(a.Source),
		ReferenceID:   a.ReferenceID,
		Actor:         a.Actor,
		CreatedAt:     formatTime(a.CreatedAt),
	}
}

func toAdjustmentDTOPtr(a *ledger.StockAdjustment) *AdjustmentDTO {
	if a == nil {
		return nil
	}
	dto := toAdjustmentDTO(*a)
	return &dto
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

type CounterpartyDTO struct {
	ID            string          `json:"id"`
	Role          string          `json:"role"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	Address       string          `json:"address,omitempty"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	TotalPending  decimal.Decimal `json:"total_pending"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
}

func toCounterpartyDTO(c ledger.Counterparty) CounterpartyDTO {
	return CounterpartyDTO{
		ID:            c.ID,
		Role:          string(c.Role),
		Name:          c.Name,
		Phone:         c.Phone,
		Address:       c.Address,
		TotalValue:    c.TotalValue,
		TotalPaid:     c.TotalPaid,
		TotalPending:  c.TotalPending,
		CreditBalance: c.CreditBalance,
		Status:        string(c.Status),
		CreatedAt:     formatTime(c.CreatedAt),
	}
}

type RegisterCounterpartyRequest struct {
	Role    string `json:"role" validate:"required,oneof=supplier buyer"`
	Name    string `json:"name" validate:"required,max=255"`
	Phone   string `json:"phone" validate:"required,max=32"`
	Address string `json:"address"`
}

type StatementDTO struct {
	Counterparty CounterpartyDTO `json:"counterparty"`
	Invoices     []InvoiceDTO    `json:"invoices"`
	Payments     []PaymentDTO    `json:"payments"`
}

// =============================================================================
// INVOICES AND PAYMENTS
// =============================================================================

type InvoiceDTO struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	CounterpartyID string          `json:"counterparty_id"`
	VarietyID      string          `json:"variety_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Total          decimal.Decimal `json:"total"`
	Paid           decimal.Decimal `json:"paid"`
	Pending        decimal.Decimal `json:"pending"`
	Date           string          `json:"date"`
	Status         string          `json:"status"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
}

func toInvoiceDTO(inv ledger.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:             inv.ID,
		Kind:           string(inv.Kind),
		CounterpartyID: inv.CounterpartyID,
		VarietyID:      inv.VarietyID,
		Quantity:       inv.Quantity,
		UnitPrice:      inv.UnitPrice,
		Total:          inv.Total,
		Paid:           inv.Paid,
		Pending:        inv.Pending,
		Date:           inv.Date.Format(dateLayout),
		Status:         string(inv.Status),
		CreatedBy:      inv.CreatedBy,
		CreatedAt:      formatTime(inv.CreatedAt),
	}
}

func toInvoiceDTOs(invs []ledger.Invoice) []InvoiceDTO {
	dtos := make([]InvoiceDTO, len(invs))
	for i, inv := range invs {
		dtos[i] = toInvoiceDTO(inv)
	}
	return dtos
}

type PaymentDTO struct {
	ID             string          `json:"id"`
	CounterpartyID string          `json:"counterparty_id"`
	InvoiceID      string          `json:"invoice_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	Reference      string          `json:"reference,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             p.ID,
		CounterpartyID: p.CounterpartyID,
		InvoiceID:      p.InvoiceID,
		Amount:         p.Amount,
		Method:         p.Method,
		Reference:      p.Reference,
		Notes:          p.Notes,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      formatTime(p.CreatedAt),
	}
}

func toPaymentDTOs(ps []ledger.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

// CreateInvoiceRequest names the counterparty either by counterparty_id or
// by phone (plus name when the counterparty is new).
type CreateInvoiceRequest struct {
	Kind             string          `json:"kind" validate:"required,oneof=purchase sale"`
	CounterpartyID   string          `json:"counterparty_id"`
	CounterpartyName string          `json:"counterparty_name" validate:"max=255"`
	Phone            string          `json:"phone" validate:"required_without=CounterpartyID,max=32"`
	Address          string          `json:"address"`
	VarietyID        string          `json:"variety_id" validate:"required"`
	Quantity         decimal.Decimal `json:"quantity" validate:"decimal_gt0"`
	UnitPrice        decimal.Decimal `json:"unit_price" validate:"decimal_gt0"`
	PaidAmount       decimal.Decimal `json:"paid_amount" validate:"decimal_gte0"`
	PaymentMethod    string          `json:"payment_method"`
	Reference        string          `json:"reference"`
	Notes            string          `json:"notes"`
	Date             string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type InvoiceResultDTO struct {
	Invoice      InvoiceDTO      `json:"invoice"`
	Counterparty CounterpartyDTO `json:"counterparty"`
	Adjustment   AdjustmentDTO   `json:"adjustment"`
	Payment      *PaymentDTO     `json:"payment,omitempty"`
}

type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	Notes     string          `json:"notes"`
}

func (p PaymentRequest) meta() ledger.PaymentMeta {
	return ledger.PaymentMeta{Method: p.Method, Reference: p.Reference, Notes: p.Notes}
}

type AllocatePaymentRequest struct {
	PaymentRequest
	Recording string `json:"recording" validate:"omitempty,oneof=per_invoice unallocated"`
}

type InvoicePaymentDTO struct {
	Invoice      InvoiceDTO      `json:"invoice"`
	Counterparty CounterpartyDTO `json:"counterparty"`
	Payment      PaymentDTO      `json:"payment"`
}

type AppliedPaymentDTO struct {
	InvoiceID string          `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type AllocationDTO struct {
	Counterparty CounterpartyDTO     `json:"counterparty"`
	Applied      []AppliedPaymentDTO `json:"applied"`
	Remaining    decimal.Decimal     `json:"remaining"`
	Credited     decimal.Decimal     `json:"credited"`
	Payments     []PaymentDTO        `json:"payments"`
}

func toAllocationDTO(res *ledger.AllocationResult) AllocationDTO {
	applied := make([]AppliedPaymentDTO, len(res.Applied))
	for i, a := range res.Applied {
		applied[i] = AppliedPaymentDTO{InvoiceID: a.InvoiceID, Amount: a.Amount}
	}
	return AllocationDTO{
		Counterparty: toCounterpartyDTO(res.Counterparty),
		Applied:      applied,
		Remaining:    res.Remaining,
		Credited:     res.Credited,
		Payments:     toPaymentDTOs(res.Payments),
	}
}

// =============================================================================
// CONVERSION PROCESSES
// =============================================================================

type ProcessDTO struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	InputVarietyID string          `json:"input_variety_id"`
	InputQuantity  decimal.Decimal `json:"input_quantity"`
	Status         string          `json:"status"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
	CompletedBy    string          `json:"completed_by,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	CancelledBy    string          `json:"cancelled_by,omitempty"`
	CancelledAt    string          `json:"cancelled_at,omitempty"`
}

func toProcessDTO(p ledger.ConversionProcess) ProcessDTO {
	return ProcessDTO{
		ID:             p.ID,
		Kind:           string(p.Kind),
		InputVarietyID: p.InputVarietyID,
		InputQuantity:  p.InputQuantity,
		Status:         string(p.Status),
		CreatedBy:      p.CreatedBy,
		CreatedAt:      formatTime(p.CreatedAt),
		CompletedBy:    p.CompletedBy,
		CompletedAt:    formatTimePtr(p.CompletedAt),
		CancelledBy:    p.CancelledBy,
		CancelledAt:    formatTimePtr(p.CancelledAt),
	}
}

type CompletionDTO struct {
	ID               string           `json:"id"`
	OutputVarietyID  string           `json:"output_variety_id"`
	ReturnedQuantity decimal.Decimal  `json:"returned_quantity"`
	Missing          *decimal.Decimal `json:"missing,omitempty"`
	Cost             *decimal.Decimal `json:"cost,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        string           `json:"created_at"`
}

func nullDecimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func toCompletionDTO(c *ledger.ConversionCompletion) *CompletionDTO {
	if c == nil {
		return nil
	}
	return &CompletionDTO{
		ID:               c.ID,
		OutputVarietyID:  c.OutputVarietyID,
		ReturnedQuantity: c.ReturnedQuantity,
		Missing:          nullDecimalPtr(c.Missing),
		Cost:             nullDecimalPtr(c.Cost),
		Notes:            c.Notes,
		CreatedBy:        c.CreatedBy,
		CreatedAt:        formatTime(c.CreatedAt),
	}
}

type MissingDetailDTO struct {
	ID          string          `json:"id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason"`
	Description string          `json:"description,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   string          `json:"created_at"`
}

func toMissingDetailDTOs(ds []ledger.MissingQuantityDetail) []MissingDetailDTO {
	dtos := make([]MissingDetailDTO, len(ds))
	for i, d := range ds {
		dtos[i] = MissingDetailDTO{
			ID:          d.ID,
			Quantity:    d.Quantity,
			Reason:      string(d.Reason),
			Description: d.Description,
			CreatedBy:   d.CreatedBy,
			CreatedAt:   formatTime(d.CreatedAt),
		}
	}
	return dtos
}

// ProcessResultDTO is returned by create, complete and cancel.
type ProcessResultDTO struct {
	Process    ProcessDTO     `json:"process"`
	Completion *CompletionDTO `json:"completion,omitempty"`
	Adjustment *AdjustmentDTO `json:"adjustment,omitempty"`
}

type ProcessDetailDTO struct {
	Process        ProcessDTO         `json:"process"`
	Completion     *CompletionDTO     `json:"completion,omitempty"`
	MissingDetails []MissingDetailDTO `json:"missing_details"`
}

type CreateProcessRequest struct {
	Kind           string          `json:"kind" validate:"required,oneof=boiling milling"`
	InputVarietyID string          `json:"input_variety_id" validate:"required"`
	Quantity       decimal.Decimal `json:"quantity" validate:"decimal_gt0"`
}

type CompleteProcessRequest struct {
	OutputVarietyID  string           `json:"output_variety_id"`
	ReturnedQuantity *decimal.Decimal `json:"returned_quantity" validate:"required,decimal_gte0"`
	Cost             *decimal.Decimal `json:"cost" validate:"omitempty,decimal_gte0"`
	Notes            string           `json:"notes"`
}

type MissingDetailRequest struct {
	Quantity    decimal.Decimal `json:"quantity" validate:"decimal_gt0"`
	Reason      string          `json:"reason" validate:"required,oneof=evaporation spillage quality_rejection other"`
	Description string          `json:"description"`
}

type MissingQuantitiesRequest struct {
	Details []MissingDetailRequest `json:"details" validate:"required,min=1,dive"`
}

// =============================================================================
// CASHBOOK
// =============================================================================

type CashCategoryDTO struct {
	ID          string `json:"id"`
	Direction   string `json:"direction"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

func toCashCategoryDTO(c ledger.CashCategory) CashCategoryDTO {
	return CashCategoryDTO{
		ID:          c.ID,
		Direction:   string(c.Direction),
		Name:        c.Name,
		Description: c.Description,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   formatTime(c.CreatedAt),
	}
}

type CashEntryDTO struct {
	ID          string          `json:"id"`
	Direction   string          `json:"direction"`
	CategoryID  string          `json:"category_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Date        string          `json:"date"`
	Status      string          `json:"status"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   string          `json:"created_at"`
	UpdatedBy   string          `json:"updated_by,omitempty"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
	DeletedBy   string          `json:"deleted_by,omitempty"`
	DeletedAt   string          `json:"deleted_at,omitempty"`
}

func toCashEntryDTO(e ledger.CashEntry) CashEntryDTO {
	return CashEntryDTO{
		ID:          e.ID,
		Direction:   string(e.Direction),
		CategoryID:  e.CategoryID,
		Amount:      e.Amount,
		Description: e.Description,
		Date:        e.Date.Format(dateLayout),
		Status:      string(e.Status),
		CreatedBy:   e.CreatedBy,
		CreatedAt:   formatTime(e.CreatedAt),
		UpdatedBy:   e.UpdatedBy,
		UpdatedAt:   formatTimePtr(e.UpdatedAt),
		DeletedBy:   e.DeletedBy,
		DeletedAt:   formatTimePtr(e.DeletedAt),
	}
}

type RegisterCashCategoryRequest struct {
	Direction   string `json:"direction" validate:"required,oneof=income expense"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
}

// CashEntryRequest is the body of both record and update. Update replaces
// every field; an omitted date keeps the entry's date.
type CashEntryRequest struct {
	CategoryID  string          `json:"category_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	Description string          `json:"description"`
	Date        string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// AUDIT
// =============================================================================

type DiscrepancyDTO struct {
	Kind     string          `json:"kind"`
	EntityID string          `json:"entity_id"`
	Field    string          `json:"field"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

type AuditReportDTO struct {
	CheckedAt      string           `json:"checked_at"`
	Clean          bool             `json:"clean"`
	Varieties      int              `json:"varieties"`
	Adjustments    int              `json:"adjustments"`
	Counterparties int              `json:"counterparties"`
	Invoices       int              `json:"invoices"`
	Payments       int              `json:"payments"`
	Discrepancies  []DiscrepancyDTO `json:"discrepancies"`
}

func toAuditReportDTO(r *ledger.AuditReport) AuditReportDTO {
	ds := make([]DiscrepancyDTO, len(r.Discrepancies))
	for i, d := range r.Discrepancies {
		ds[i] = DiscrepancyDTO{
			Kind:     string(d.Kind),
			EntityID: d.EntityID,
			Field:    d.Field,
			Expected: d.Expected,
			Actual:   d.Actual,
		}
	}
	return AuditReportDTO{
		CheckedAt:      formatTime(r.CheckedAt),
		Clean:          r.Clean(),
		Varieties:      r.Varieties,
		Adjustments:    r.Adjustments,
		Counterparties: r.Counterparties,
		Invoices:       r.Invoices,
		Payments:       r.Payments,
		Discrepancies:  ds,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
