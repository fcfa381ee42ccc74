package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"csv-analyst-be/internal/constant"
	"csv-analyst-be/internal/dto"
	"csv-analyst-be/internal/metrics"
	"csv-analyst-be/internal/pkg/logger"
	"csv-analyst-be/internal/repository/memory"
	"csv-analyst-be/pkg/ai/pipeline"
	"csv-analyst-be/pkg/conversation"
	"csv-analyst-be/pkg/dataset"
	"csv-analyst-be/pkg/events"
	"csv-analyst-be/pkg/llm"
	"csv-analyst-be/pkg/prompt"
	"csv-analyst-be/pkg/store"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// IChatService drives the per-session lifecycle: credential, dataset, chat turns.
type IChatService interface {
	CreateSession(ctx context.Context) (*dto.SessionResponse, error)
	GetSession(ctx context.Context, sessionId string) (*dto.SessionResponse, error)
	SetCredential(ctx context.Context, sessionId string, request *dto.SetCredentialRequest) (*dto.SessionResponse, error)
	LoadDataset(ctx context.Context, sessionId string, request *dto.UploadDatasetRequest) (*dto.LoadDatasetResponse, error)
	CheckReady(ctx context.Context, sessionId string) error
	SendChat(ctx context.Context, sessionId string, request *dto.SendChatRequest, onChunk func(chunk string) error) (*dto.SendChatResponse, error)
	GetHistory(ctx context.Context, sessionId string) (*dto.GetHistoryResponse, error)
	ResetConversation(ctx context.Context, sessionId string) error
	DeleteSession(ctx context.Context, sessionId string) error
}

type ChatServiceConfig struct {
	Persona  string
	Budget   prompt.Budget
	Decoding pipeline.Decoding

	// Credential given to new sessions; empty leaves them without one.
	DefaultCredential string

	KeepHistoryOnReload bool
	MaxUploadBytes      int64

	// Process-wide cap on model requests; 0 means unlimited.
	RequestsPerMinute int
}

type chatService struct {
	sessionRepo *memory.SessionRepository
	llmProvider llm.Provider
	loader      *dataset.Loader
	publisher   IPublisherService
	metrics     *metrics.Metrics
	logger      logger.ILogger
	limiter     *rate.Limiter
	cfg         ChatServiceConfig
}

func NewChatService(
	sessionRepo *memory.SessionRepository,
	llmProvider llm.Provider,
	loader *dataset.Loader,
	publisher IPublisherService,
	metrics *metrics.Metrics,
	logger logger.ILogger,
	cfg ChatServiceConfig,
) IChatService {
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}

	return &chatService{
		sessionRepo: sessionRepo,
		llmProvider: llmProvider,
		loader:      loader,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		limiter:     limiter,
		cfg:         cfg,
	}
}

func (cs *chatService) CreateSession(ctx context.Context) (*dto.SessionResponse, error) {
	session := store.NewSession(uuid.NewString(), time.Now())
	session.Credential = cs.cfg.DefaultCredential

	cs.sessionRepo.Save(session)
	cs.metrics.SessionsCreatedTotal.Inc()
	cs.logger.Info(constant.ModuleChat, "Session created", map[string]interface{}{"session_id": session.ID})

	session.Lock()
	defer session.Unlock()
	return cs.toSessionResponse(session), nil
}

func (cs *chatService) GetSession(ctx context.Context, sessionId string) (*dto.SessionResponse, error) {
	session, err := cs.lookup(sessionId)
	if err != nil {
		return nil, err
	}

	session.Lock()
	defer session.Unlock()
	return cs.toSessionResponse(session), nil
}

func (cs *chatService) SetCredential(ctx context.Context, sessionId string, request *dto.SetCredentialRequest) (*dto.SessionResponse, error) {
	credential := strings.TrimSpace(request.ApiKey)
	if credential == "" {
		return nil, ErrMissingCredential
	}

	session, err := cs.lookup(sessionId)
	if err != nil {
		return nil, err
	}

	session.Lock()
	rebound := false
	if session.Pipeline != nil {
		p, err := session.Pipeline.Rebind(credential)
		if err != nil {
			session.Unlock()
			return nil, err
		}
		session.Pipeline = p
		rebound = true
	}
	session.Credential = credential
	session.LastActiveAt = time.Now()
	res := cs.toSessionResponse(session)
	session.Unlock()

	if err := cs.sessionRepo.Touch(session); err != nil {
		return nil, ErrSessionNotFound
	}
	cs.logger.Info(constant.ModuleChat, "Credential set", map[string]interface{}{
		"session_id": sessionId,
		"rebound":    rebound,
	})

	return res, nil
}

func (cs *chatService) LoadDataset(ctx context.Context, sessionId string, request *dto.UploadDatasetRequest) (*dto.LoadDatasetResponse, error) {
	session, err := cs.lookup(sessionId)
	if err != nil {
		return nil, err
	}

	session.Lock()
	hasCredential := session.Credential != ""
	session.Unlock()
	if !hasCredential {
		cs.metrics.RecordDatasetLoad("rejected", 0)
		return nil, ErrMissingCredential
	}

	if err := cs.validateUpload(request); err != nil {
		cs.metrics.RecordDatasetLoad("rejected", 0)
		cs.logger.Warn(constant.ModuleDataset, "Upload rejected", map[string]interface{}{
			"session_id": sessionId,
			"filename":   request.Filename,
			"error":      err,
		})
		return nil, err
	}

	ds, err := cs.loader.Load(ctx, bytes.NewReader(request.Data))
	if err != nil {
		cs.metrics.RecordDatasetLoad("parse_error", 0)
		cs.logger.Warn(constant.ModuleDataset, "Dataset load failed", map[string]interface{}{
			"session_id": sessionId,
			"filename":   request.Filename,
			"error":      err,
		})
		return nil, err
	}

	template := prompt.NewTemplate(cs.cfg.Persona, ds.Rows, cs.cfg.Budget)
	now := time.Now()
	info := store.DatasetInfo{
		Filename:  request.Filename,
		Rows:      ds.Len(),
		Columns:   ds.Columns,
		SizeBytes: int64(len(request.Data)),
		Truncated: template.Truncated(),
		LoadedAt:  now,
	}

	session.Lock()
	if session.Answering {
		session.Unlock()
		return nil, ErrTurnInProgress
	}
	p, err := pipeline.NewAnalystPipeline(cs.llmProvider, session.Credential, template, cs.cfg.Decoding)
	if err != nil {
		session.Unlock()
		return nil, err
	}
	session.Pipeline = p
	session.Dataset = &info
	historyReset := false
	if !cs.cfg.KeepHistoryOnReload && session.Conversation.Len() > 0 {
		session.Conversation.Reset()
		historyReset = true
	}
	session.LastActiveAt = now
	session.Unlock()

	if err := cs.sessionRepo.Touch(session); err != nil {
		return nil, ErrSessionNotFound
	}
	cs.metrics.RecordDatasetLoad("success", info.Rows)
	cs.logger.Info(constant.ModuleDataset, "Dataset loaded", map[string]interface{}{
		"session_id":    sessionId,
		"filename":      info.Filename,
		"rows":          info.Rows,
		"truncated":     info.Truncated,
		"history_reset": historyReset,
	})
	cs.publish(ctx, events.NewSessionEvent(constant.TopicDatasetLoaded, sessionId, map[string]interface{}{
		"filename":   info.Filename,
		"rows":       info.Rows,
		"size_bytes": info.SizeBytes,
		"truncated":  info.Truncated,
	}))

	return &dto.LoadDatasetResponse{
		Dataset:      info,
		HistoryReset: historyReset,
	}, nil
}

func (cs *chatService) CheckReady(ctx context.Context, sessionId string) error {
	session, err := cs.lookup(sessionId)
	if err != nil {
		return err
	}

	session.Lock()
	defer session.Unlock()
	return readiness(session)
}

func (cs *chatService) SendChat(ctx context.Context, sessionId string, request *dto.SendChatRequest, onChunk func(chunk string) error) (*dto.SendChatResponse, error) {
	input := request.Chat
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyUserInput
	}

	session, err := cs.lookup(sessionId)
	if err != nil {
		return nil, err
	}

	session.Lock()
	if err := readiness(session); err != nil {
		session.Unlock()
		return nil, err
	}
	session.Answering = true
	p := session.Pipeline
	history := session.Conversation.Turns()
	session.Unlock()

	defer func() {
		session.Lock()
		session.Answering = false
		session.LastActiveAt = time.Now()
		session.Unlock()
		if err := cs.sessionRepo.Touch(session); err != nil {
			cs.logger.Debug(constant.ModuleChat, "Session removed during turn", map[string]interface{}{"session_id": sessionId})
		}
	}()

	cs.metrics.ChatTurnsInFlight.Inc()
	defer cs.metrics.ChatTurnsInFlight.Dec()

	started := time.Now()
	reply, chunks, err := cs.ask(ctx, p, input, history, onChunk)
	if err != nil {
		cs.metrics.RecordTurn("failure", chunks, time.Since(started))
		cs.logger.Error(constant.ModuleChat, "Chat turn failed", map[string]interface{}{
			"session_id": sessionId,
			"chunks":     chunks,
			"error":      err,
		})
		cs.publish(ctx, events.NewSessionEvent(constant.TopicTurnFailed, sessionId, map[string]interface{}{
			"chunks": chunks,
			"error":  err.Error(),
		}))
		return nil, err
	}

	session.Conversation.AppendExchange(input, reply)

	duration := time.Since(started)
	cs.metrics.RecordTurn("success", chunks, duration)
	cs.logger.Info(constant.ModuleChat, "Chat turn completed", map[string]interface{}{
		"session_id":  sessionId,
		"chunks":      chunks,
		"reply_chars": len(reply),
		"duration_ms": duration.Milliseconds(),
	})
	cs.publish(ctx, events.NewSessionEvent(constant.TopicTurnCompleted, sessionId, map[string]interface{}{
		"chunks":      chunks,
		"reply_chars": len(reply),
		"duration_ms": duration.Milliseconds(),
	}))

	return &dto.SendChatResponse{
		ChatSessionId: sessionId,
		Sent:          conversation.Turn{Role: conversation.RoleHuman, Text: input},
		Reply:         conversation.Turn{Role: conversation.RoleAI, Text: reply},
		Chunks:        chunks,
	}, nil
}

func (cs *chatService) ask(ctx context.Context, p *pipeline.AnalystPipeline, input string, history []conversation.Turn, onChunk func(chunk string) error) (string, int, error) {
	if cs.limiter != nil {
		if err := cs.limiter.Wait(ctx); err != nil {
			return "", 0, fmt.Errorf("%w: rate limit: %w", ErrModelRequest, err)
		}
	}
	return cs.consume(p.Ask(ctx, input, history), onChunk)
}

// consume reads the stream to the end, handing every chunk to onChunk, and
// returns the accumulated reply.
func (cs *chatService) consume(stream llm.Stream, onChunk func(chunk string) error) (string, int, error) {
	defer stream.Close()

	var reply strings.Builder
	chunks := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return reply.String(), chunks, nil
		}
		if err != nil {
			return "", chunks, fmt.Errorf("%w: %w", ErrModelRequest, err)
		}

		reply.WriteString(chunk)
		chunks++
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return "", chunks, fmt.Errorf("deliver chunk: %w", err)
			}
		}
	}
}

func (cs *chatService) GetHistory(ctx context.Context, sessionId string) (*dto.GetHistoryResponse, error) {
	session, err := cs.lookup(sessionId)
	if err != nil {
		return nil, err
	}

	return &dto.GetHistoryResponse{
		ChatSessionId: sessionId,
		Turns:         session.Conversation.Turns(),
	}, nil
}

func (cs *chatService) ResetConversation(ctx context.Context, sessionId string) error {
	session, err := cs.lookup(sessionId)
	if err != nil {
		return err
	}

	session.Lock()
	defer session.Unlock()
	if session.Answering {
		return ErrTurnInProgress
	}
	session.Conversation.Reset()
	session.LastActiveAt = time.Now()

	cs.logger.Info(constant.ModuleChat, "Conversation reset", map[string]interface{}{"session_id": sessionId})
	return nil
}

func (cs *chatService) DeleteSession(ctx context.Context, sessionId string) error {
	if _, ok := cs.sessionRepo.Get(sessionId); !ok {
		return ErrSessionNotFound
	}
	cs.sessionRepo.Delete(sessionId)
	cs.logger.Info(constant.ModuleChat, "Session deleted", map[string]interface{}{"session_id": sessionId})
	return nil
}

// lookup fetches the session and restarts its inactivity expiry.
func (cs *chatService) lookup(sessionId string) (*store.Session, error) {
	session, ok := cs.sessionRepo.Get(sessionId)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := cs.sessionRepo.Touch(session); err != nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (cs *chatService) validateUpload(request *dto.UploadDatasetRequest) error {
	if cs.cfg.MaxUploadBytes > 0 && request.Size > cs.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: file too large", ErrInvalidFileType)
	}
	if err := dataset.ValidateUpload(request.Filename, request.Size, request.ContentType); err != nil {
		return err
	}
	return dataset.ValidateContent(request.Data)
}

func (cs *chatService) publish(ctx context.Context, evt events.Event) {
	if cs.publisher == nil {
		return
	}
	if err := cs.publisher.Publish(ctx, evt); err != nil {
		cs.logger.Warn(constant.ModuleChat, "Failed to publish event", map[string]interface{}{
			"event": evt.EventType(),
			"error": err,
		})
	}
}

// readiness maps the session state to the error a chat turn would fail with.
// Callers hold the session lock.
func readiness(session *store.Session) error {
	switch session.State() {
	case store.StateNoCredential:
		return ErrMissingCredential
	case store.StateReadyNoDataset:
		return ErrNotReady
	case store.StateAnswering:
		return ErrTurnInProgress
	default:
		return nil
	}
}

func (cs *chatService) toSessionResponse(session *store.Session) *dto.SessionResponse {
	res := &dto.SessionResponse{
		Id:        session.ID,
		State:     session.State(),
		Turns:     session.Conversation.Len(),
		Model:     cs.cfg.Decoding.Model,
		CreatedAt: session.CreatedAt,
	}
	if session.Dataset != nil {
		info := *session.Dataset
		res.Dataset = &info
	}
	return res
}
