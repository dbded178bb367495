package chat

// Wire message type tags shared with the backend.
const (
	frameInitConnection = "init_connection"
	frameChatMessage    = "chat_message"
	frameAIResponse     = "ai_response"
	frameSystemMessage  = "system_message"
	frameError          = "error"
	frameSummaryReady   = "summary_ready"
)

type outboundFrame struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	Message string `json:"message,omitempty"`
}

type aiPayload struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
}

type inboundFrame struct {
	Type    string     `json:"type"`
	Payload *aiPayload `json:"payload,omitempty"`
	Text    string     `json:"text,omitempty"`
	Message string     `json:"message,omitempty"`
	UserID  string     `json:"userId,omitempty"`
}
