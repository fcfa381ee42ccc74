package dto

import (
	"time"

	"csv-analyst-be/pkg/conversation"
	"csv-analyst-be/pkg/store"
)

type SessionResponse struct {
	Id        string             `json:"id"`
	State     string             `json:"state"`
	Dataset   *store.DatasetInfo `json:"dataset,omitempty"`
	Turns     int                `json:"turns"`
	Model     string             `json:"model"`
	CreatedAt time.Time          `json:"created_at"`
}

type SetCredentialRequest struct {
	ApiKey string `json:"api_key" validate:"required"`
}

// UploadDatasetRequest is assembled by the controller from a multipart form.
type UploadDatasetRequest struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

type LoadDatasetResponse struct {
	Dataset      store.DatasetInfo `json:"dataset"`
	HistoryReset bool              `json:"history_reset"`
}

type SendChatRequest struct {
	Chat string `json:"chat" validate:"required,max=16000"`
}

type SendChatResponse struct {
	ChatSessionId string            `json:"chat_session_id"`
	Sent          conversation.Turn `json:"sent"`
	Reply         conversation.Turn `json:"reply"`
	Chunks        int               `json:"chunks"`
}

type GetHistoryResponse struct {
	ChatSessionId string              `json:"chat_session_id"`
	Turns         []conversation.Turn `json:"turns"`
}

// StreamEvent is one frame of a streamed reply, over SSE or websocket.
type StreamEvent struct {
	Type    string            `json:"type"`
	Content string            `json:"content,omitempty"`
	Message string            `json:"message,omitempty"`
	Reply   *SendChatResponse `json:"reply,omitempty"`
}

// WsInboundMessage is what websocket clients send.
type WsInboundMessage struct {
	Type string `json:"type"`
	Chat string `json:"chat"`
}
