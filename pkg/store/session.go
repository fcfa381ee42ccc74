package store

import (
	"sync"
	"time"

	"csv-analyst-be/pkg/ai/pipeline"
	"csv-analyst-be/pkg/conversation"
)

const (
	StateNoCredential   = "NO_CREDENTIAL"
	StateReadyNoDataset = "READY_NO_DATASET"
	StateReady          = "READY"
	StateAnswering      = "ANSWERING"
)

// DatasetInfo describes the dataset currently bound to a session.
type DatasetInfo struct {
	Filename  string    `json:"filename"`
	Rows      int       `json:"rows"`
	Columns   []string  `json:"columns"`
	SizeBytes int64     `json:"size_bytes"`
	Truncated bool      `json:"truncated"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// Session represents the state of one chat client in memory.
// Fields are guarded by the embedded mutex; the conversation log carries its
// own lock so it can be read while a turn is streaming.
type Session struct {
	sync.Mutex

	ID         string
	Credential string

	// The model session of the loaded dataset; nil until a dataset is loaded.
	Pipeline *pipeline.AnalystPipeline
	Dataset  *DatasetInfo

	Conversation *conversation.State

	Answering bool

	CreatedAt    time.Time
	LastActiveAt time.Time
}

func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Conversation: conversation.NewState(),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// State derives the controller state. Callers hold the lock.
func (s *Session) State() string {
	switch {
	case s.Credential == "":
		return StateNoCredential
	case s.Pipeline == nil:
		return StateReadyNoDataset
	case s.Answering:
		return StateAnswering
	default:
		return StateReady
	}
}
