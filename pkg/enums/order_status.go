package enums

// OrderStatus is the internal order lifecycle state. The reconciliation
// subsystem only ever writes completed.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
)

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}
