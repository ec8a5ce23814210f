package enums

// SyncOutcome labels one reconciliation attempt in the sync log.
type SyncOutcome string

const (
	SyncOutcomeSuccess     SyncOutcome = "success"
	SyncOutcomeFailed      SyncOutcome = "failed"
	SyncOutcomeError       SyncOutcome = "error"
	SyncOutcomeNoDataFound SyncOutcome = "no_data_found"
)

// String implements fmt.Stringer.
func (o SyncOutcome) String() string {
	return string(o)
}
