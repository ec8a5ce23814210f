package enums

import "fmt"

// PurchaseTier classifies a checkout: a one-time perpetual purchase or one
// of the recurring billing cycles.
type PurchaseTier string

const (
	PurchaseTierPerpetual  PurchaseTier = "perpetual"
	PurchaseTierShortCycle PurchaseTier = "short_cycle"
	PurchaseTierLongCycle  PurchaseTier = "long_cycle"
)

var validPurchaseTiers = []PurchaseTier{
	PurchaseTierPerpetual,
	PurchaseTierShortCycle,
	PurchaseTierLongCycle,
}

// String implements fmt.Stringer.
func (t PurchaseTier) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t PurchaseTier) IsValid() bool {
	for _, candidate := range validPurchaseTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsRecurring reports whether the tier bills on a cycle.
func (t PurchaseTier) IsRecurring() bool {
	return t == PurchaseTierShortCycle || t == PurchaseTierLongCycle
}

// ParsePurchaseTier converts raw input into a PurchaseTier.
func ParsePurchaseTier(value string) (PurchaseTier, error) {
	for _, candidate := range validPurchaseTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase tier %q", value)
}
