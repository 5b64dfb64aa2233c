package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ricemill/stock-ledger/ledger"
)

// timeLayout is fixed-width so that text ordering equals time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

// txStore implements ledger.Tx on one *sql.Tx.
type txStore struct {
	tx *sql.Tx
	d  dialect
}

func (t *txStore) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(query), args...)
	return err
}

func (t *txStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.d.rebind(query), args...)
}

func (t *txStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.rebind(query), args...)
}

// where builds a WHERE clause from the non-empty conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// =============================================================================
// VARIETIES
// =============================================================================

const varietyColumns = `id, name, category, current_stock, min_stock_level, created_by, created_at`

func scanVariety(row scanner) (*ledger.Variety, error) {
	var v ledger.Variety
	var createdAt string
	if err := row.Scan(&v.ID, &v.Name, &v.Category, &v.CurrentStock, &v.MinStockLevel, &v.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("variety %s: %w", v.ID, err)
	}
	return &v, nil
}

func (t *txStore) InsertVariety(ctx context.Context, v ledger.Variety) error {
	err := t.exec(ctx, `
		INSERT INTO varieties (id, name, name_key, category, current_stock, min_stock_level, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, ledger.NameKey(v.Name), string(v.Category), v.CurrentStock, v.MinStockLevel, v.CreatedBy, formatTime(v.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ledger.Duplicate("variety %q already exists", v.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to insert variety: %w", err)
	}
	return nil
}

func (t *txStore) GetVariety(ctx context.Context, id string, lock ledger.Lock) (*ledger.Variety, error) {
	v, err := scanVariety(t.queryRow(ctx,
		`SELECT `+varietyColumns+` FROM varieties WHERE id = ?`+t.d.forUpdate(bool(lock)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variety: %w", err)
	}
	return v, nil
}

func (t *txStore) FindVarietyByName(ctx context.Context, key string) (*ledger.Variety, error) {
	v, err := scanVariety(t.queryRow(ctx, `SELECT `+varietyColumns+` FROM varieties WHERE name_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find variety: %w", err)
	}
	return v, nil
}

func (t *txStore) ListVarieties(ctx context.Context, f ledger.VarietyFilter) ([]ledger.Variety, error) {
	var w where
	if f.Category != "" {
		w.add("category = ?", string(f.Category))
	}
	rows, err := t.query(ctx, `SELECT `+varietyColumns+` FROM varieties`+w.String()+` ORDER BY name_key`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list varieties: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Variety, 0)
	for rows.Next() {
		v, err := scanVariety(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (t *txStore) UpdateVarietyStock(ctx context.Context, id string, stock decimal.Decimal) error {
	if err := t.exec(ctx, `UPDATE varieties SET current_stock = ? WHERE id = ?`, stock, id); err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	return nil
}

func (t *txStore) UpdateMinStockLevel(ctx context.Context, id string, level decimal.Decimal) error {
	if err := t.exec(ctx, `UPDATE varieties SET min_stock_level = ? WHERE id = ?`, level, id); err != nil {
		return fmt.Errorf("failed to update minimum stock level: %w", err)
	}
	return nil
}

// =============================================================================
// STOCK ADJUSTMENTS
// =============================================================================

func (t *txStore) InsertAdjustment(ctx context.Context, a ledger.StockAdjustment) error {
	err := t.exec(ctx, `
		INSERT INTO stock_adjustments
		(id, variety_id, delta, previous_stock, new_stock, reason, source, reference_id, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.VarietyID, a.Delta, a.PreviousStock, a.NewStock, a.Reason, string(a.Source),
		nullString(a.ReferenceID), a.Actor, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert stock adjustment: %w", err)
	}
	return nil
}

func (t *txStore) ListAdjustments(ctx context.Context, varietyID string) ([]ledger.StockAdjustment, error) {
	var w where
	if varietyID != "" {
		w.add("variety_id = ?", varietyID)
	}
	rows, err := t.query(ctx, `
		SELECT id, variety_id, delta, previous_stock, new_stock, reason, source, reference_id, actor, created_at
		FROM stock_adjustments`+w.String()+`
		ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock adjustments: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.StockAdjustment, 0)
	for rows.Next() {
		var a ledger.StockAdjustment
		var ref sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.VarietyID, &a.Delta, &a.PreviousStock, &a.NewStock,
			&a.Reason, &a.Source, &ref, &a.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock adjustment: %w", err)
		}
		a.ReferenceID = ref.String
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

const counterpartyColumns = `id, role, name, phone, address, total_value, total_paid, total_pending, credit_balance, status, created_at`

func scanCounterparty(row scanner) (*ledger.Counterparty, error) {
	var c ledger.Counterparty
	var address sql.NullString
	var createdAt string
	if err := row.Scan(&c.ID, &c.Role, &c.Name, &c.Phone, &address,
		&c.TotalValue, &c.TotalPaid, &c.TotalPending, &c.CreditBalance, &c.Status, &createdAt); err != nil {
		return nil, err
	}
	c.Address = address.String
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("counterparty %s: %w", c.ID, err)
	}
	return &c, nil
}

func (t *txStore) InsertCounterparty(ctx context.Context, c ledger.Counterparty) error {
	err := t.exec(ctx, `
		INSERT INTO counterparties (`+counterpartyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Role), c.Name, c.Phone, nullString(c.Address),
		c.TotalValue, c.TotalPaid, c.TotalPending, c.CreditBalance, string(c.Status), formatTime(c.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ledger.Duplicate("a %s with phone %s already exists", c.Role, c.Phone)
	}
	if err != nil {
		return fmt.Errorf("failed to insert counterparty: %w", err)
	}
	return nil
}

func (t *txStore) GetCounterparty(ctx context.Context, id string, lock ledger.Lock) (*ledger.Counterparty, error) {
	c, err := scanCounterparty(t.queryRow(ctx,
		`SELECT `+counterpartyColumns+` FROM counterparties WHERE id = ?`+t.d.forUpdate(bool(lock)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counterparty: %w", err)
	}
	return c, nil
}

func (t *txStore) FindCounterpartyByPhone(ctx context.Context, role ledger.CounterpartyRole, phone string, lock ledger.Lock) (*ledger.Counterparty, error) {
	c, err := scanCounterparty(t.queryRow(ctx,
		`SELECT `+counterpartyColumns+` FROM counterparties WHERE role = ? AND phone = ? AND status = ?`+t.d.forUpdate(bool(lock)),
		string(role), phone, string(ledger.StatusActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find counterparty: %w", err)
	}
	return c, nil
}

func (t *txStore) ListCounterparties(ctx context.Context, role ledger.CounterpartyRole) ([]ledger.Counterparty, error) {
	var w where
	w.add("status = ?", string(ledger.StatusActive))
	if role != "" {
		w.add("role = ?", string(role))
	}
	rows, err := t.query(ctx, `SELECT `+counterpartyColumns+` FROM counterparties`+w.String()+` ORDER BY name, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list counterparties: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Counterparty, 0)
	for rows.Next() {
		c, err := scanCounterparty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (t *txStore) UpdateCounterpartyTotals(ctx context.Context, c ledger.Counterparty) error {
	err := t.exec(ctx, `
		UPDATE counterparties
		SET total_value = ?, total_paid = ?, total_pending = ?, credit_balance = ?
		WHERE id = ?`,
		c.TotalValue, c.TotalPaid, c.TotalPending, c.CreditBalance, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update counterparty totals: %w", err)
	}
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, kind, counterparty_id, variety_id, quantity, unit_price, total, paid, pending, invoice_date, status, created_by, created_at`

func scanInvoice(row scanner) (*ledger.Invoice, error) {
	var inv ledger.Invoice
	var date, createdAt string
	if err := row.Scan(&inv.ID, &inv.Kind, &inv.CounterpartyID, &inv.VarietyID, &inv.Quantity, &inv.UnitPrice,
		&inv.Total, &inv.Paid, &inv.Pending, &date, &inv.Status, &inv.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if inv.Date, err = parseTime(date); err != nil {
		return nil, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	return &inv, nil
}

func (t *txStore) InsertInvoice(ctx context.Context, inv ledger.Invoice) error {
	err := t.exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, string(inv.Kind), inv.CounterpartyID, inv.VarietyID, inv.Quantity, inv.UnitPrice,
		inv.Total, inv.Paid, inv.Pending, formatTime(inv.Date), string(inv.Status), inv.CreatedBy, formatTime(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

func (t *txStore) GetInvoice(ctx context.Context, id string, lock ledger.Lock) (*ledger.Invoice, error) {
	inv, err := scanInvoice(t.queryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`+t.d.forUpdate(bool(lock)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices filters OpenOnly in Go: comparing a TEXT decimal with 0 in
// SQLite is a string comparison.
func (t *txStore) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	var w where
	w.add("status = ?", string(ledger.StatusActive))
	if f.Kind != "" {
		w.add("kind = ?", string(f.Kind))
	}
	if f.CounterpartyID != "" {
		w.add("counterparty_id = ?", f.CounterpartyID)
	}
	order := " ORDER BY invoice_date DESC, id DESC"
	if f.OldestFirst {
		order = " ORDER BY invoice_date ASC, id ASC"
	}
	rows, err := t.query(ctx, `SELECT `+invoiceColumns+` FROM invoices`+w.String()+order+t.d.forUpdate(bool(f.Lock)), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		if f.OpenOnly && !inv.Pending.IsPositive() {
			continue
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (t *txStore) UpdateInvoiceSettlement(ctx context.Context, id string, paid, pending decimal.Decimal) error {
	if err := t.exec(ctx, `UPDATE invoices SET paid = ?, pending = ? WHERE id = ?`, paid, pending, id); err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (t *txStore) InsertPayment(ctx context.Context, p ledger.Payment) error {
	err := t.exec(ctx, `
		INSERT INTO payments (id, counterparty_id, invoice_id, amount, method, reference, notes, status, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CounterpartyID, nullString(p.InvoiceID), p.Amount, p.Method,
		nullString(p.Reference), nullString(p.Notes), string(p.Status), p.CreatedBy, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t *txStore) ListPayments(ctx context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	var w where
	w.add("status = ?", string(ledger.StatusActive))
	if f.CounterpartyID != "" {
		w.add("counterparty_id = ?", f.CounterpartyID)
	}
	if f.InvoiceID != "" {
		w.add("invoice_id = ?", f.InvoiceID)
	}
	rows, err := t.query(ctx, `
		SELECT id, counterparty_id, invoice_id, amount, method, reference, notes, status, created_by, created_at
		FROM payments`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Payment, 0)
	for rows.Next() {
		var p ledger.Payment
		var invoiceID, reference, notes sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ID, &p.CounterpartyID, &invoiceID, &p.Amount, &p.Method,
			&reference, &notes, &p.Status, &p.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.InvoiceID = invoiceID.String
		p.Reference = reference.String
		p.Notes = notes.String
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// CONVERSION PROCESSES
// =============================================================================

const processColumns = `id, kind, input_variety_id, input_quantity, status, created_by, created_at, completed_by, completed_at, cancelled_by, cancelled_at`

func scanProcess(row scanner) (*ledger.ConversionProcess, error) {
	var p ledger.ConversionProcess
	var createdAt string
	var completedBy, completedAt, cancelledBy, cancelledAt sql.NullString
	if err := row.Scan(&p.ID, &p.Kind, &p.InputVarietyID, &p.InputQuantity, &p.Status, &p.CreatedBy, &createdAt,
		&completedBy, &completedAt, &cancelledBy, &cancelledAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("process %s: %w", p.ID, err)
	}
	p.CompletedBy = completedBy.String
	p.CancelledBy = cancelledBy.String
	if p.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if p.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *txStore) InsertProcess(ctx context.Context, p ledger.ConversionProcess) error {
	err := t.exec(ctx, `
		INSERT INTO conversion_processes (`+processColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Kind), p.InputVarietyID, p.InputQuantity, string(p.Status), p.CreatedBy, formatTime(p.CreatedAt),
		nullString(p.CompletedBy), nullTime(p.CompletedAt), nullString(p.CancelledBy), nullTime(p.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert process: %w", err)
	}
	return nil
}

func (t *txStore) GetProcess(ctx context.Context, id string, lock ledger.Lock) (*ledger.ConversionProcess, error) {
	p, err := scanProcess(t.queryRow(ctx,
		`SELECT `+processColumns+` FROM conversion_processes WHERE id = ?`+t.d.forUpdate(bool(lock)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return p, nil
}

func (t *txStore) ListProcesses(ctx context.Context, f ledger.ProcessFilter) ([]ledger.ConversionProcess, error) {
	var w where
	if f.Kind != "" {
		w.add("kind = ?", string(f.Kind))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	rows, err := t.query(ctx, `SELECT `+processColumns+` FROM conversion_processes`+w.String()+` ORDER BY created_at DESC, id DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.ConversionProcess, 0)
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (t *txStore) UpdateProcess(ctx context.Context, p ledger.ConversionProcess) error {
	err := t.exec(ctx, `
		UPDATE conversion_processes
		SET status = ?, completed_by = ?, completed_at = ?, cancelled_by = ?, cancelled_at = ?
		WHERE id = ?`,
		string(p.Status), nullString(p.CompletedBy), nullTime(p.CompletedAt),
		nullString(p.CancelledBy), nullTime(p.CancelledAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update process: %w", err)
	}
	return nil
}

func (t *txStore) InsertCompletion(ctx context.Context, c ledger.ConversionCompletion) error {
	err := t.exec(ctx, `
		INSERT INTO conversion_completions
		(id, process_id, output_variety_id, returned_quantity, missing, cost, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProcessID, c.OutputVarietyID, c.ReturnedQuantity, c.Missing, c.Cost,
		nullString(c.Notes), c.CreatedBy, formatTime(c.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ledger.Invalid("process %s is already completed", c.ProcessID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert completion: %w", err)
	}
	return nil
}

func (t *txStore) GetCompletion(ctx context.Context, processID string) (*ledger.ConversionCompletion, error) {
	var c ledger.ConversionCompletion
	var notes sql.NullString
	var createdAt string
	err := t.queryRow(ctx, `
		SELECT id, process_id, output_variety_id, returned_quantity, missing, cost, notes, created_by, created_at
		FROM conversion_completions WHERE process_id = ?`, processID,
	).Scan(&c.ID, &c.ProcessID, &c.OutputVarietyID, &c.ReturnedQuantity, &c.Missing, &c.Cost, &notes, &c.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}
	c.Notes = notes.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ReplaceMissingDetails deletes the whole set and reinserts it.
func (t *txStore) ReplaceMissingDetails(ctx context.Context, completionID string, details []ledger.MissingQuantityDetail) error {
	if err := t.exec(ctx, `DELETE FROM missing_quantity_details WHERE completion_id = ?`, completionID); err != nil {
		return fmt.Errorf("failed to clear missing quantity details: %w", err)
	}
	for _, d := range details {
		err := t.exec(ctx, `
			INSERT INTO missing_quantity_details (id, completion_id, quantity, reason, description, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, completionID, d.Quantity, string(d.Reason), nullString(d.Description), d.CreatedBy, formatTime(d.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert missing quantity detail: %w", err)
		}
	}
	return nil
}

func (t *txStore) ListMissingDetails(ctx context.Context, completionID string) ([]ledger.MissingQuantityDetail, error) {
	rows, err := t.query(ctx, `
		SELECT id, completion_id, quantity, reason, description, created_by, created_at
		FROM missing_quantity_details WHERE completion_id = ?
		ORDER BY created_at, id`, completionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing quantity details: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.MissingQuantityDetail, 0)
	for rows.Next() {
		var d ledger.MissingQuantityDetail
		var desc sql.NullString
		var createdAt string
		if err := rows.Scan(&d.ID, &d.CompletionID, &d.Quantity, &d.Reason, &desc, &d.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan missing quantity detail: %w", err)
		}
		d.Description = desc.String
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// CASHBOOK
// =============================================================================

const cashCategoryColumns = `id, direction, name, description, created_by, created_at`

func scanCashCategory(row scanner) (*ledger.CashCategory, error) {
	var c ledger.CashCategory
	var desc sql.NullString
	var createdAt string
	if err := row.Scan(&c.ID, &c.Direction, &c.Name, &desc, &c.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	c.Description = desc.String
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("cash category %s: %w", c.ID, err)
	}
	return &c, nil
}

func (t *txStore) InsertCashCategory(ctx context.Context, c ledger.CashCategory) error {
	err := t.exec(ctx, `
		INSERT INTO cash_categories (id, direction, name, name_key, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Direction), c.Name, ledger.NameKey(c.Name), nullString(c.Description), c.CreatedBy, formatTime(c.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ledger.Duplicate("%s category %q already exists", c.Direction, c.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to insert cash category: %w", err)
	}
	return nil
}

func (t *txStore) GetCashCategory(ctx context.Context, id string) (*ledger.CashCategory, error) {
	c, err := scanCashCategory(t.queryRow(ctx, `SELECT `+cashCategoryColumns+` FROM cash_categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cash category: %w", err)
	}
	return c, nil
}

func (t *txStore) FindCashCategoryByName(ctx context.Context, direction ledger.CashDirection, key string) (*ledger.CashCategory, error) {
	c, err := scanCashCategory(t.queryRow(ctx,
		`SELECT `+cashCategoryColumns+` FROM cash_categories WHERE direction = ? AND name_key = ?`, string(direction), key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cash category: %w", err)
	}
	return c, nil
}

func (t *txStore) ListCashCategories(ctx context.Context, direction ledger.CashDirection) ([]ledger.CashCategory, error) {
	var w where
	if direction != "" {
		w.add("direction = ?", string(direction))
	}
	rows, err := t.query(ctx, `SELECT `+cashCategoryColumns+` FROM cash_categories`+w.String()+` ORDER BY direction, name_key`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cash categories: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.CashCategory, 0)
	for rows.Next() {
		c, err := scanCashCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const cashEntryColumns = `id, direction, category_id, amount, description, entry_date, status, created_by, created_at, updated_by, updated_at, deleted_by, deleted_at`

func scanCashEntry(row scanner) (*ledger.CashEntry, error) {
	var e ledger.CashEntry
	var desc, updatedBy, updatedAt, deletedBy, deletedAt sql.NullString
	var date, createdAt string
	if err := row.Scan(&e.ID, &e.Direction, &e.CategoryID, &e.Amount, &desc, &date, &e.Status, &e.CreatedBy, &createdAt,
		&updatedBy, &updatedAt, &deletedBy, &deletedAt); err != nil {
		return nil, err
	}
	e.Description = desc.String
	e.UpdatedBy = updatedBy.String
	e.DeletedBy = deletedBy.String
	var err error
	if e.Date, err = parseTime(date); err != nil {
		return nil, fmt.Errorf("cash entry %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("cash entry %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, err
	}
	if e.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *txStore) InsertCashEntry(ctx context.Context, e ledger.CashEntry) error {
	err := t.exec(ctx, `
		INSERT INTO cash_entries (`+cashEntryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Direction), e.CategoryID, e.Amount, nullString(e.Description), formatTime(e.Date),
		string(e.Status), e.CreatedBy, formatTime(e.CreatedAt),
		nullString(e.UpdatedBy), nullTime(e.UpdatedAt), nullString(e.DeletedBy), nullTime(e.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cash entry: %w", err)
	}
	return nil
}

func (t *txStore) GetCashEntry(ctx context.Context, id string, lock ledger.Lock) (*ledger.CashEntry, error) {
	e, err := scanCashEntry(t.queryRow(ctx,
		`SELECT `+cashEntryColumns+` FROM cash_entries WHERE id = ?`+t.d.forUpdate(bool(lock)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cash entry: %w", err)
	}
	return e, nil
}

func (t *txStore) ListCashEntries(ctx context.Context, f ledger.CashEntryFilter) ([]ledger.CashEntry, error) {
	var w where
	w.add("status = ?", string(ledger.StatusActive))
	if f.Direction != "" {
		w.add("direction = ?", string(f.Direction))
	}
	if f.CategoryID != "" {
		w.add("category_id = ?", f.CategoryID)
	}
	if !f.From.IsZero() {
		w.add("entry_date >= ?", formatTime(f.From))
	}
	if !f.To.IsZero() {
		w.add("entry_date <= ?", formatTime(f.To))
	}
	rows, err := t.query(ctx, `SELECT `+cashEntryColumns+` FROM cash_entries`+w.String()+` ORDER BY entry_date DESC, id DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cash entries: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.CashEntry, 0)
	for rows.Next() {
		e, err := scanCashEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (t *txStore) UpdateCashEntry(ctx context.Context, e ledger.CashEntry) error {
	err := t.exec(ctx, `
		UPDATE cash_entries
		SET category_id = ?, amount = ?, description = ?, entry_date = ?, status = ?,
		    updated_by = ?, updated_at = ?, deleted_by = ?, deleted_at = ?
		WHERE id = ?`,
		e.CategoryID, e.Amount, nullString(e.Description), formatTime(e.Date), string(e.Status),
		nullString(e.UpdatedBy), nullTime(e.UpdatedAt), nullString(e.DeletedBy), nullTime(e.DeletedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update cash entry: %w", err)
	}
	return nil
}
