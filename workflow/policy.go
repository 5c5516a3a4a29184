package workflow

// ContinuePolicy decides when a workflow should continue as new to bound
// its history.
type ContinuePolicy interface {
	ShouldContinueAsNew(historyLength, historyBytes int64) bool
}

// HistoryLimits suggests continue-as-new once either limit is reached. A
// zero limit is ignored.
type HistoryLimits struct {
	MaxLength int64
	MaxBytes  int64
}

// ShouldContinueAsNew implements ContinuePolicy.
func (h HistoryLimits) ShouldContinueAsNew(historyLength, historyBytes int64) bool {
	if h.MaxLength > 0 && historyLength >= h.MaxLength {
		return true
	}
	return h.MaxBytes > 0 && historyBytes >= h.MaxBytes
}

// NeverContinue is a ContinuePolicy that never suggests continue-as-new.
type NeverContinue struct{}

// ShouldContinueAsNew implements ContinuePolicy.
func (NeverContinue) ShouldContinueAsNew(int64, int64) bool { return false }
