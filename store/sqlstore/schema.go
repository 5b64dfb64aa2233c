package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// Column type placeholders, expanded per dialect.
const (
	tID   = "VARCHAR(64)"
	tKey  = "VARCHAR(255)"
	tEnum = "VARCHAR(32)"
	tTime = "VARCHAR(40)"
	tDec  = "{decimal}"
	tText = "{text}"
)

type column struct {
	name string
	def  string
}

type index struct {
	name   string
	cols   string
	unique bool
}

type table struct {
	name    string
	columns []column
	indexes []index
}

// tables is ordered parent-first. Reset deletes in reverse.
var tables = []table{
	{
		name: "varieties",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"name", tKey + " NOT NULL"},
			{"name_key", tKey + " NOT NULL"},
			{"category", tEnum + " NOT NULL"},
			{"current_stock", tDec + " NOT NULL"},
			{"min_stock_level", tDec + " NOT NULL"},
			{"created_by", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
		},
		indexes: []index{
			{name: "idx_varieties_name_key", cols: "name_key", unique: true},
			{name: "idx_varieties_category", cols: "category"},
		},
	},
	{
		// Append-only: no UPDATE or DELETE is ever issued against this table
		// outside Reset.
		name: "stock_adjustments",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"variety_id", tID + " NOT NULL"},
			{"delta", tDec + " NOT NULL"},
			{"previous_stock", tDec + " NOT NULL"},
			{"new_stock", tDec + " NOT NULL"},
			{"reason", tText + " NOT NULL"},
			{"source", tEnum + " NOT NULL"},
			{"reference_id", tID},
			{"actor", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
		},
		indexes: []index{
			{name: "idx_adjustments_variety", cols: "variety_id, created_at, id"},
			{name: "idx_adjustments_reference", cols: "reference_id"},
		},
	},
	{
		name: "counterparties",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"role", tEnum + " NOT NULL"},
			{"name", tKey + " NOT NULL"},
			{"phone", tEnum + " NOT NULL"},
			{"address", tText},
			{"total_value", tDec + " NOT NULL"},
			{"total_paid", tDec + " NOT NULL"},
			{"total_pending", tDec + " NOT NULL"},
			{"credit_balance", tDec + " NOT NULL"},
			{"status", tEnum + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
		},
		indexes: []index{
			{name: "idx_counterparties_role_phone", cols: "role, phone", unique: true},
		},
	},
	{
		name: "invoices",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"kind", tEnum + " NOT NULL"},
			{"counterparty_id", tID + " NOT NULL"},
			{"variety_id", tID + " NOT NULL"},
			{"quantity", tDec + " NOT NULL"},
			{"unit_price", tDec + " NOT NULL"},
			{"total", tDec + " NOT NULL"},
			{"paid", tDec + " NOT NULL"},
			{"pending", tDec + " NOT NULL"},
			{"invoice_date", tTime + " NOT NULL"},
			{"status", tEnum + " NOT NULL"},
			{"created_by", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
		},
		indexes: []index{
			// FIFO allocation reads (counterparty, date, id) in order.
			{name: "idx_invoices_counterparty_date", cols: "counterparty_id, invoice_date, id"},
			{name: "idx_invoices_kind_date", cols: "kind, invoice_date"},
		},
	},
	{
		name: "payments",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"counterparty_id", tID + " NOT NULL"},
			{"invoice_id", tID},
			{"amount", tDec + " NOT NULL"},
			{"method", tEnum + " NOT NULL"},
			{"reference", tKey},
			{"notes", tText},
			{"status", tEnum + " NOT NULL"},
			{"created_by", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
		},
		indexes: []index{
			{name: "idx_payments_counterparty", cols: "counterparty_id, created_at"},
			{name: "idx_payments_invoice", cols: "invoice_id"},
		},
	},
	{
		name: "conversion_processes",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"kind", tEnum + " NOT NULL"},
			{"input_variety_id", tID + " NOT NULL"},
			{"input_quantity", tDec + " NOT NULL"},
			{"status", tEnum + " NOT NULL"},
			{"created_by", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
			{"completed_by", tID},
			{"completed_at", tTime},
			{"cancelled_by", tID},
			{"cancelled_at", tTime},
		},
		indexes: []index{
			{name: "idx_processes_kind_status", cols: "kind, status"},
		},
	},
	{
		name: "conversion_completions",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"process_id", tID + " NOT NULL"},
			{"output_variety_id", tID + " NOT NULL"},
			{"returned_quantity", tDec + " NOT NULL"},
			{"missing", tDec},
			{"cost", tDec},
			{"notes", tText},
			{"created_by", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
		},
		indexes: []index{
			{name: "idx_completions_process", cols: "process_id", unique: true},
		},
	},
	{
		name: "missing_quantity_details",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"completion_id", tID + " NOT NULL"},
			{"quantity", tDec + " NOT NULL"},
			{"reason", tEnum + " NOT NULL"},
			{"description", tText},
			{"created_by", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
		},
		indexes: []index{
			{name: "idx_missing_completion", cols: "completion_id"},
		},
	},
	{
		name: "cash_categories",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"direction", tEnum + " NOT NULL"},
			{"name", tKey + " NOT NULL"},
			{"name_key", tKey + " NOT NULL"},
			{"description", tText},
			{"created_by", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
		},
		indexes: []index{
			{name: "idx_cash_categories_name", cols: "direction, name_key", unique: true},
		},
	},
	{
		name: "cash_entries",
		columns: []column{
			{"id", tID + " PRIMARY KEY"},
			{"direction", tEnum + " NOT NULL"},
			{"category_id", tID + " NOT NULL"},
			{"amount", tDec + " NOT NULL"},
			{"description", tText},
			{"entry_date", tTime + " NOT NULL"},
			{"status", tEnum + " NOT NULL"},
			{"created_by", tID + " NOT NULL"},
			{"created_at", tTime + " NOT NULL"},
			{"updated_by", tID},
			{"updated_at", tTime},
			{"deleted_by", tID},
			{"deleted_at", tTime},
		},
		indexes: []index{
			{name: "idx_cash_entries_direction_date", cols: "direction, entry_date"},
			{name: "idx_cash_entries_category", cols: "category_id"},
		},
	},
}

// schema renders the CREATE statements for d.
func (d dialect) schema() []string {
	expand := strings.NewReplacer("{decimal}", d.decimalType, "{text}", d.textType)

	var stmts []string
	for _, t := range tables {
		defs := make([]string, 0, len(t.columns)+len(t.indexes))
		for _, c := range t.columns {
			defs = append(defs, c.name+" "+expand.Replace(c.def))
		}
		if d.inlineIndexes {
			for _, ix := range t.indexes {
				kw := "INDEX"
				if ix.unique {
					kw = "UNIQUE INDEX"
				}
				defs = append(defs, fmt.Sprintf("%s %s (%s)", kw, ix.name, ix.cols))
			}
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
			t.name, strings.Join(defs, ",\n\t")))

		if !d.inlineIndexes {
			for _, ix := range t.indexes {
				kw := "INDEX"
				if ix.unique {
					kw = "UNIQUE INDEX"
				}
				stmts = append(stmts, fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s(%s)",
					kw, ix.name, t.name, ix.cols))
			}
		}
	}
	return stmts
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}
	return nil
}
