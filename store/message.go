package store

// Message is a persisted chat message. Content is rich-text markup.
type Message struct {
	ID             int32
	UID            string
	ConversationID int32
	SenderID       int32
	Content        string
	CreatedTs      int64
}

type FindMessage struct {
	ID             *int32
	UID            *string
	ConversationID *int32

	// Limit caps the number of rows, 0 means no limit.
	Limit int
	// Latest selects the newest rows first (created_ts DESC).
	Latest bool
}

type DeleteMessage struct {
	ID             *int32
	ConversationID *int32
}
