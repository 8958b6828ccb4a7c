package domain

// Action describes the type of mutation recorded in a Change.
type Action string

const (
	// ActionCreate marks a newly created record.
	ActionCreate Action = "create"
	// ActionUpdate marks a write to an existing record.
	ActionUpdate Action = "update"
	// ActionDelete marks a removed record.
	ActionDelete Action = "delete"
)

// Change describes a record write about to be committed. Hooks may mutate
// After; Before is a copy of the stored state and nil on create.
type Change struct {
	Entity          EntityType
	Action          Action
	Before          *Record
	After           *Record
	CategoryWritten bool
}

// NewChange builds the change for a write of after over before. A nil before
// means a create; a nil after means a delete.
func NewChange(entity EntityType, before, after *Record) *Change {
	change := &Change{Entity: entity, Action: ActionUpdate, After: after}
	if before != nil {
		b := before.Clone()
		change.Before = &b
	}
	switch {
	case before == nil:
		change.Action = ActionCreate
		change.CategoryWritten = after != nil && after.CategoryID != nil
	case after == nil:
		change.Action = ActionDelete
	default:
		change.CategoryWritten = after.CategoryWritten() || !SameID(before.CategoryID, after.CategoryID)
	}
	return change
}
