package chatapi

// Payloads of the events the server pushes over the realtime channel.

type ConnectedPayload struct {
	Message string `json:"message"`
}

type DisconnectedPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type ChatCreatedPayload = Chat

type MessageAddedPayload = Message

type StatusUpdatePayload struct {
	ChatID  string `json:"chat_id"`
	Status  string `json:"status"` // processing|completed|error
	Message string `json:"message"`
}

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

type ChatMessagesPayload struct {
	ChatID   string    `json:"chat_id"`
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

type ChatStatsPayload = ChatStats

type ErrorPayload struct {
	Error string `json:"error"`
}

// Payloads of the events the client sends.

type ChatRef struct {
	ChatID string `json:"chat_id"`
}

type ChatMessagesRequest struct {
	ChatID string `json:"chat_id"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}
