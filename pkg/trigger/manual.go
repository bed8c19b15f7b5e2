package trigger

// NewManual builds a manual trigger: fired directly by a caller, with no
// scheduling machinery of its own.
func NewManual(id, name, dataType string) *Trigger {
	return New(id, name, "manual", dataType)
}
