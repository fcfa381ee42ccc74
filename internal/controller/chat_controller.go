package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"

	"csv-analyst-be/internal/constant"
	"csv-analyst-be/internal/dto"
	"csv-analyst-be/internal/pkg/logger"
	"csv-analyst-be/internal/pkg/serverutils"
	"csv-analyst-be/internal/service"
	internalWS "csv-analyst-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	CreateSession(ctx *fiber.Ctx) error
	GetSession(ctx *fiber.Ctx) error
	DeleteSession(ctx *fiber.Ctx) error
	SetCredential(ctx *fiber.Ctx) error
	UploadDataset(ctx *fiber.Ctx) error
	SendChat(ctx *fiber.Ctx) error
	StreamChat(ctx *fiber.Ctx) error
	GetHistory(ctx *fiber.Ctx) error
	ResetHistory(ctx *fiber.Ctx) error
	ServeWs(ctx *fiber.Ctx) error
}

type chatController struct {
	service        service.IChatService
	hub            *internalWS.Hub
	logger         logger.ILogger
	maxUploadBytes int64
}

func NewChatController(service service.IChatService, hub *internalWS.Hub, logger logger.ILogger, maxUploadBytes int64) IChatController {
	return &chatController{
		service:        service,
		hub:            hub,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/session/v1")
	h.Post("", c.CreateSession)
	h.Get(":id", c.GetSession)
	h.Delete(":id", c.DeleteSession)
	h.Put(":id/credential", c.SetCredential)
	h.Post(":id/dataset", c.UploadDataset)
	h.Post(":id/chat", c.SendChat)
	h.Post(":id/chat/stream", c.StreamChat)
	h.Get(":id/history", c.GetHistory)
	h.Delete(":id/history", c.ResetHistory)
	h.Get(":id/ws", c.ServeWs)
}

// sessionId copies the route param; fiber reuses its buffer after the handler returns.
func sessionId(ctx *fiber.Ctx) string {
	return utils.CopyString(ctx.Params("id"))
}

func (c *chatController) CreateSession(ctx *fiber.Ctx) error {
	res, err := c.service.CreateSession(ctx.Context())
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create session", res))
}

func (c *chatController) GetSession(ctx *fiber.Ctx) error {
	res, err := c.service.GetSession(ctx.Context(), sessionId(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get session", res))
}

func (c *chatController) DeleteSession(ctx *fiber.Ctx) error {
	if err := c.service.DeleteSession(ctx.Context(), sessionId(ctx)); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete session", nil))
}

func (c *chatController) SetCredential(ctx *fiber.Ctx) error {
	var req dto.SetCredentialRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.SetCredential(ctx.Context(), sessionId(ctx), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success set credential", res))
}

func (c *chatController) UploadDataset(ctx *fiber.Ctx) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "file is required")
	}

	file, err := fh.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "failed to open file")
	}
	defer file.Close()

	data, err := readAtMost(file, c.maxUploadBytes)
	if err != nil {
		return err
	}

	res, err := c.service.LoadDataset(ctx.Context(), sessionId(ctx), &dto.UploadDatasetRequest{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        int64(len(data)),
		Data:        data,
	})
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success load dataset", res))
}

func (c *chatController) SendChat(ctx *fiber.Ctx) error {
	var req dto.SendChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.SendChat(ctx.UserContext(), sessionId(ctx), &req, nil)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success send chat", res))
}

// StreamChat answers with text/event-stream. Preconditions are checked
// before the stream starts so they still map to a status code; failures after
// that arrive as an error event.
func (c *chatController) StreamChat(ctx *fiber.Ctx) error {
	var req dto.SendChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	id := sessionId(ctx)
	if err := c.service.CheckReady(ctx.Context(), id); err != nil {
		return err
	}

	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// The request context is gone once the handler returns; a failed
		// write is the only disconnect signal.
		streamCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		res, err := c.service.SendChat(streamCtx, id, &req, func(chunk string) error {
			evt := dto.StreamEvent{Type: constant.StreamEventChunk, Content: chunk}
			c.mirror(streamCtx, id, evt)
			if err := writeEvent(w, evt); err != nil {
				cancel()
				return err
			}
			return nil
		})
		if err != nil {
			_, message := serverutils.Resolve(err, service.ErrorMappings())
			evt := dto.StreamEvent{Type: constant.StreamEventError, Message: message}
			c.mirror(streamCtx, id, evt)
			_ = writeEvent(w, evt)
			return
		}

		evt := dto.StreamEvent{Type: constant.StreamEventDone, Reply: res}
		c.mirror(streamCtx, id, evt)
		_ = writeEvent(w, evt)
	})

	return nil
}

func (c *chatController) GetHistory(ctx *fiber.Ctx) error {
	res, err := c.service.GetHistory(ctx.Context(), sessionId(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get history", res))
}

func (c *chatController) ResetHistory(ctx *fiber.Ctx) error {
	if err := c.service.ResetConversation(ctx.Context(), sessionId(ctx)); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success reset history", nil))
}

func (c *chatController) ServeWs(ctx *fiber.Ctx) error {
	id := sessionId(ctx)
	if _, err := c.service.GetSession(ctx.Context(), id); err != nil {
		return err
	}

	if websocket.IsWebSocketUpgrade(ctx) {
		return websocket.New(func(conn *websocket.Conn) {
			c.logger.Info(constant.ModuleHub, "Starting WebSocket session", map[string]interface{}{"session_id": id})
			internalWS.ServeWs(c.hub, conn, id, c.handleWsMessage, func() {
				_, _ = c.service.GetSession(context.Background(), id)
			})
			c.logger.Info(constant.ModuleHub, "WebSocket session ended", map[string]interface{}{"session_id": id})
		})(ctx)
	}

	return fiber.ErrUpgradeRequired
}

// handleWsMessage runs one chat turn per inbound frame. Chunks and the final
// event go to every client of the session; errors only to the sender.
func (c *chatController) handleWsMessage(ctx context.Context, client *internalWS.Client, payload []byte) {
	var msg dto.WsInboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != "chat" {
		c.hub.Reply(client, dto.StreamEvent{Type: constant.StreamEventError, Message: `expected {"type":"chat","chat":"..."}`})
		return
	}

	res, err := c.service.SendChat(ctx, client.SessionID, &dto.SendChatRequest{Chat: msg.Chat}, func(chunk string) error {
		c.hub.Send(ctx, client.SessionID, dto.StreamEvent{Type: constant.StreamEventChunk, Content: chunk})
		return nil
	})
	if err != nil {
		_, message := serverutils.Resolve(err, service.ErrorMappings())
		c.hub.Reply(client, dto.StreamEvent{Type: constant.StreamEventError, Message: message})
		return
	}

	c.hub.Send(ctx, client.SessionID, dto.StreamEvent{Type: constant.StreamEventDone, Reply: res})
}

// mirror forwards SSE events to websocket watchers of the same session.
func (c *chatController) mirror(ctx context.Context, id string, evt dto.StreamEvent) {
	if c.hub != nil {
		c.hub.Send(ctx, id, evt)
	}
}

func writeEvent(w *bufio.Writer, evt dto.StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return err
	}
	return w.Flush()
}

// readAtMost reads the whole file, failing when it exceeds max bytes. A
// non-positive max means no cap, as in the service.
func readAtMost(f multipart.File, max int64) ([]byte, error) {
	if max <= 0 {
		b, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return b, nil
	}

	limited := io.LimitReader(f, max+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("%w: file too large, limit is %d bytes", service.ErrInvalidFileType, max)
	}
	return b, nil
}
