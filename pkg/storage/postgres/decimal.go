package postgres

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// decStr renders d for a NUMERIC column argument. Passing the canonical
// string form (rather than a float64) keeps every conversion exact, the
// invariant requires of qty_in_base_unit/price_per_base_unit.
func decStr(d decimal.Decimal) string { return d.String() }

// decFromStr parses a NUMERIC column's text representation back into out.
func decFromStr(s string, out *decimal.Decimal) error {
	if s == "" {
		*out = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parse decimal %q: %w", s, err)
	}
	*out = v
	return nil
}

// optionalDecStr renders a nullable NUMERIC column argument.
func optionalDecStr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// optionalFloatArg renders a nullable DOUBLE PRECISION column argument.
func optionalFloatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// optionalDecFromStr parses a nullable NUMERIC column's text representation,
// returning nil when the column was NULL.
func optionalDecFromStr(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	v, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s.String, err)
	}
	return &v, nil
}
