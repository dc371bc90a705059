package domain

// Kind is the closed set of event types the engine routes. Routing and
// payload decoding switch on Kind exhaustively instead of sniffing payload
// shapes.
type Kind string

const (
	// KindChatMessage is a message posted to a conversation topic.
	KindChatMessage Kind = "chat.message"
	// KindPlanStatus is a plan lifecycle transition (draft, active, done).
	KindPlanStatus Kind = "plan.status"
	// KindGroupMember is a membership change on a group topic.
	KindGroupMember Kind = "group.member"
	// KindSystemNotice is an operator or system announcement.
	KindSystemNotice Kind = "system.notice"
)

// Valid reports whether k belongs to the recognized enumeration.
func (k Kind) Valid() bool {
	switch k {
	case KindChatMessage, KindPlanStatus, KindGroupMember, KindSystemNotice:
		return true
	}
	return false
}

// EchoSuppressed reports whether the origin identity is excluded from the
// recipient set entirely. The sender of a chat message gets neither a live
// copy nor a push for it; their client already rendered it locally.
func (k Kind) EchoSuppressed() bool {
	switch k {
	case KindChatMessage:
		return true
	case KindPlanStatus, KindGroupMember, KindSystemNotice:
		return false
	}
	return false
}

// Critical reports whether frames of this kind survive backpressure drops.
// The hub sheds the oldest non-critical frame first when a connection's
// outbound queue saturates.
func (k Kind) Critical() bool {
	return k == KindGroupMember
}
