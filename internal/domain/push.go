package domain

type PushKind string

const (
	PushMessage    PushKind = "message"
	PushMissedCall PushKind = "missed_call"
)

type PushNotification struct {
	UserID         UserID            `json:"userId"`
	Kind           PushKind          `json:"kind"`
	ConversationID ConversationID    `json:"conversationId,omitempty"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
}

// PushSubscription is a browser web-push endpoint stored for a user.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}
