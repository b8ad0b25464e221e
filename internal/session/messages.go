// ABOUTME: JSON messages exchanged with observer clients on /ws.
// ABOUTME: Clients send auth, text and confirm; the gateway sends auth results, responses and confirms.

package session

// Inbound message types. MsgConfirm is also sent outbound.
const (
	MsgAuth    = "auth"
	MsgText    = "text"
	MsgConfirm = "confirm"
)

// Outbound message types.
const (
	MsgAuthOK   = "auth_ok"
	MsgAuthFail = "auth_fail"
	MsgResponse = "response"
	MsgStatus   = "status"
	MsgError    = "error"
)

// ClientMessage is what an observer sends.
type ClientMessage struct {
	Type     string `json:"type"`
	Passcode string `json:"passcode,omitempty"`
	Token    string `json:"token,omitempty"`
	Content  string `json:"content,omitempty"`
	// Choice is 1-based.
	Choice     int    `json:"choice,omitempty"`
	ID         string `json:"id,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
}

// ServerMessage is what the gateway sends an observer.
type ServerMessage struct {
	Type        string       `json:"type"`
	Content     string       `json:"content,omitempty"`
	Token       string       `json:"token,omitempty"`
	ConfirmData *ConfirmData `json:"confirmData,omitempty"`
}

// ConfirmData describes a question awaiting the observer's choice.
// ID is set for inline requests, ExternalID for broadcast ones.
type ConfirmData struct {
	ID         string            `json:"id,omitempty"`
	ExternalID string            `json:"externalId,omitempty"`
	Question   string            `json:"question"`
	Options    []string          `json:"options"`
	ToolName   string            `json:"toolName,omitempty"`
	ToolInput  map[string]string `json:"toolInput,omitempty"`
	CallID     string            `json:"toolUseId,omitempty"`
	Source     string            `json:"source,omitempty"`
}
