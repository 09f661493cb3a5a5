package proto

// Inbound action names accepted over the WebSocket.
const (
	ActionJoin        = "join"
	ActionMessage     = "message"
	ActionTypingStart = "typing_start"
	ActionTypingStop  = "typing_stop"
)

// Action is the envelope for frames coming from the client. Frames are flat
// JSON objects; which fields are meaningful depends on Action.
type Action struct {
	Action        string `json:"action"`
	ThreadID      int64  `json:"thread_id,omitempty"`
	Content       string `json:"content,omitempty"`
	ReplyToID     *int64 `json:"reply_to_id,omitempty"`
	ForwardFromID *int64 `json:"forward_from_id,omitempty"`
}
