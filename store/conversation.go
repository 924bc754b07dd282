package store

type ConversationKind string

const (
	ConversationKindChannel      ConversationKind = "CHANNEL"
	ConversationKindDirect       ConversationKind = "DIRECT"
	ConversationKindAgentSession ConversationKind = "AGENT_SESSION"
)

type Conversation struct {
	ID        int32
	UID       string
	Kind      ConversationKind
	Name      *string
	CreatorID int32
	CreatedTs int64
	UpdatedTs int64
}

// DisplayName returns the conversation name or an empty string when unnamed.
func (c *Conversation) DisplayName() string {
	if c.Name == nil {
		return ""
	}
	return *c.Name
}

type FindConversation struct {
	ID        *int32
	UID       *string
	Kind      *ConversationKind
	Name      *string
	CreatorID *int32
	IDList    []int32
}

type UpdateConversation struct {
	ID        int32
	Name      *string
	UpdatedTs *int64
}

type DeleteConversation struct {
	ID int32
}

type ConversationMember struct {
	ConversationID int32
	UserID         int32
	CreatedTs      int64
}

type FindConversationMember struct {
	ConversationID *int32
	UserID         *int32
}

type DeleteConversationMember struct {
	ConversationID int32
	UserID         *int32
}
