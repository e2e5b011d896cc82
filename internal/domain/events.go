package domain

// Event names carried in the "type" field of every frame.
const (
	EventPresence         = "presence"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventMessage          = "message"
	EventConversationRead = "conversation:read"
	EventPostNew          = "post:new"
	EventPostDelete       = "post:delete"
	EventCallOffer        = "call:offer"
	EventCallAnswer       = "call:answer"
	EventCallICE          = "call:ice"
	EventCallDecline      = "call:decline"
	EventCallEnd          = "call:end"
	EventCallUnavailable  = "call:unavailable"
	EventCallTransport    = "call:transport"
	EventPing             = "ping"
	EventPong             = "pong"
	EventError            = "error"
)
