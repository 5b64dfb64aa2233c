package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

// =============================================================================
// PHONE NORMALIZATION
// =============================================================================

// DefaultPhoneRegion is used to parse numbers written without a country code.
const DefaultPhoneRegion = "LK"

// NormalizePhone turns a user-entered number into E.164 so that "077 123 4567"
// and "+94771234567" resolve to the same counterparty.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", validationf("phone number is required")
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", validationf("invalid phone number %q: %v", raw, err)
	}
	if !libphonenumber.IsPossibleNumber(num) {
		return "", validationf("invalid phone number %q", raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// =============================================================================
// COUNTERPARTY REFERENCE
// =============================================================================

// CounterpartyRef identifies the other side of an invoice: either an existing
// ID, or a phone number with an optional name used to create one.
type CounterpartyRef struct {
	ID      string
	Name    string
	Phone   string
	Address string
}

// =============================================================================
// BALANCES - counterparty aggregate maintenance
// =============================================================================

// balanceDelta is applied to a counterparty in the same transaction as the
// invoice or payment change that caused it.
type balanceDelta struct {
	Value   decimal.Decimal
	Paid    decimal.Decimal
	Pending decimal.Decimal
	Credit  decimal.Decimal
}

type Balances struct {
	PhoneRegion string
	Now         func() time.Time
	NewID       func() string
}

// Register creates a counterparty. The phone must be unique within the role.
func (b *Balances) Register(ctx context.Context, tx Tx, role CounterpartyRole, name, phone, address string) (*Counterparty, error) {
	if !role.Valid() {
		return nil, validationf("unknown counterparty role %q", role)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationf("counterparty name is required")
	}
	normalized, err := NormalizePhone(phone, b.PhoneRegion)
	if err != nil {
		return nil, err
	}
	existing, err := tx.FindCounterpartyByPhone(ctx, role, normalized, NoLock)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, validationf("a %s with phone %s already exists", role, normalized)
	}
	return b.insert(ctx, tx, role, name, normalized, address)
}

// Resolve finds the counterparty for an invoice, creating it when only a phone
// and name are given. The returned row is locked for update.
func (b *Balances) Resolve(ctx context.Context, tx Tx, role CounterpartyRole, ref CounterpartyRef) (*Counterparty, error) {
	if ref.ID != "" {
		c, err := tx.GetCounterparty(ctx, ref.ID, ForUpdate)
		if err != nil {
			return nil, err
		}
		if c == nil || !c.Status.IsLive() {
			return nil, notFound("counterparty", ref.ID)
		}
		if c.Role != role {
			return nil, validationf("counterparty %s is a %s, not a %s", c.ID, c.Role, role)
		}
		return c, nil
	}

	if strings.TrimSpace(ref.Phone) == "" {
		return nil, validationf("counterparty id or phone is required")
	}
	phone, err := NormalizePhone(ref.Phone, b.PhoneRegion)
	if err != nil {
		return nil, err
	}
	c, err := tx.FindCounterpartyByPhone(ctx, role, phone, ForUpdate)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return nil, validationf("counterparty name is required for a new %s", role)
	}
	// FOR UPDATE cannot lock a row that does not exist yet, so a concurrent
	// first invoice for the same phone can insert it first. Rerunning the
	// transaction finds that row.
	c, err = b.insert(ctx, tx, role, name, phone, ref.Address)
	if errors.Is(err, ErrDuplicate) {
		return nil, Conflict(err)
	}
	return c, err
}

func (b *Balances) insert(ctx context.Context, tx Tx, role CounterpartyRole, name, phone, address string) (*Counterparty, error) {
	c := Counterparty{
		ID:            b.NewID(),
		Role:          role,
		Name:          name,
		Phone:         phone,
		Address:       strings.TrimSpace(address),
		TotalValue:    decimal.Zero,
		TotalPaid:     decimal.Zero,
		TotalPending:  decimal.Zero,
		CreditBalance: decimal.Zero,
		Status:        StatusActive,
		CreatedAt:     b.Now(),
	}
	if err := tx.InsertCounterparty(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// apply adds d to c and persists the new totals.
func (b *Balances) apply(ctx context.Context, tx Tx, c *Counterparty, d balanceDelta) error {
	c.TotalValue = c.TotalValue.Add(d.Value)
	c.TotalPaid = c.TotalPaid.Add(d.Paid)
	c.TotalPending = c.TotalPending.Add(d.Pending)
	c.CreditBalance = c.CreditBalance.Add(d.Credit)
	return tx.UpdateCounterpartyTotals(ctx, *c)
}

// lockOwner loads the counterparty owning an invoice for update.
func (b *Balances) lockOwner(ctx context.Context, tx Tx, id string) (*Counterparty, error) {
	c, err := tx.GetCounterparty(ctx, id, ForUpdate)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("counterparty", id)
	}
	return c, nil
}
