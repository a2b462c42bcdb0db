package action

// Category is the coarse grouping of action types used for trust bucketing.
// Several action types may share one category; trust earned on one type
// carries over to its siblings.
type Category string

const (
	CategoryResearch      Category = "research"
	CategoryCommunication Category = "communication"
	CategoryRecords       Category = "records"
	CategoryScheduling    Category = "scheduling"
	CategoryGeneral       Category = "general"
)

// categories maps known action types to their trust category.
var categories = map[string]Category{
	"research":     CategoryResearch,
	"lead_gen":     CategoryResearch,
	"email_draft":  CategoryCommunication,
	"crm_update":   CategoryRecords,
	"meeting_prep": CategoryScheduling,
}

// CategoryOf returns the trust category for an action type. Unknown types
// fall into the general bucket so they still accumulate a track record.
func CategoryOf(actionType string) Category {
	if c, ok := categories[actionType]; ok {
		return c
	}
	return CategoryGeneral
}

// ReadOnly reports whether the category never mutates external state.
// Read-only categories have nothing to undo.
func (c Category) ReadOnly() bool {
	return c == CategoryResearch
}
