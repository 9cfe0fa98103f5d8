package domain

// MessageType discriminates session messages.
type MessageType string

// Inbound message types.
const (
	TypeGetState    MessageType = "get_state"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"
)

// Outbound message types.
const (
	TypeState        MessageType = "state"
	TypeSubscribed   MessageType = "subscribed"
	TypeUnsubscribed MessageType = "unsubscribed"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

// Reasons carried by state messages.
const (
	ReasonWelcome   = "welcome"
	ReasonUpdate    = "update"
	ReasonRequested = "requested"
	ReasonSubscribe = "subscribe"
)

// Inbound is any message a session may send.
type Inbound struct {
	Type   MessageType `json:"type"`
	Tokens []string    `json:"tokens,omitempty"`
}

// StateMessage pushes the full state of a set of tokens.
type StateMessage struct {
	Type      MessageType           `json:"type"`
	Reason    string                `json:"reason"`
	Timestamp int64                 `json:"timestamp"`
	Tokens    map[string]TokenState `json:"tokens"`
}

// AckMessage acknowledges a subscribe or unsubscribe.
type AckMessage struct {
	Type   MessageType `json:"type"`
	Tokens []string    `json:"tokens"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorMessage reports a problem with one inbound message.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}
