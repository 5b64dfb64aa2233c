package api

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidator_DecimalTags(t *testing.T) {
	tests := []struct {
		tag   string
		value string
		valid bool
	}{
		{"decimal_gt0", "0.01", true},
		{"decimal_gt0", "0", false},
		{"decimal_gt0", "-1", false},
		{"decimal_gte0", "0", true},
		{"decimal_gte0", "-0.001", false},
		{"decimal_ne0", "-3", true},
		{"decimal_ne0", "0", false},
	}

	v := getValidator()
	for _, tt := range tests {
		t.Run(tt.tag+" "+tt.value, func(t *testing.T) {
			err := v.Var(decimal.RequireFromString(tt.value), tt.tag)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
