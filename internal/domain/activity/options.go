package activity

// ListActivityOptions provides filtering options for listing activity.
type ListActivityOptions struct {
	RecordID     *string
	ActorID      string
	ActivityType *ActivityType
	Limit        int
	Offset       int
}
