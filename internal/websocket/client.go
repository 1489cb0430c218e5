package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"wainbox/server/internal/models"
	"wainbox/server/internal/sender"
	"wainbox/server/internal/session"
)

// Conversation is the view a client drives
type Conversation interface {
	Open(waID int64) error
	LoadOlder() error
	Send(req session.SendRequest) (string, error)
	Retry(tempID string) error
	Close() error
	ChatID() int64
}

// Client represents a WebSocket client connection
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan []byte
	View   Conversation

	// Authorize applies a rotated access token; set by the connection handler
	Authorize func(token string) error

	log    *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client
func NewClient(userID string, conn *websocket.Conn, hub *Hub, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		UserID: userID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan []byte, 256),
		log:    log.With(zap.String("user_id", userID)),
	}
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket_read_failed", zap.Error(err))
			}
			break
		}

		// Parse incoming message
		var incoming IncomingMessage
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.replyError("", CodeBadRequest, "malformed message")
			continue
		}

		c.handleIncomingMessage(incoming)
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("websocket_write_failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleIncomingMessage runs one browser command against the view
func (c *Client) handleIncomingMessage(msg IncomingMessage) {
	if c.View == nil {
		c.replyError(msg.Type, CodeInternal, "conversation view not ready")
		return
	}

	switch msg.Type {
	case CmdOpenChat:
		var p OpenChatPayload
		if !c.decode(msg, &p) {
			return
		}
		waID, err := models.ParseWaID(p.WaID.String())
		if err != nil {
			c.replyError(msg.Type, CodeBadRequest, err.Error())
			return
		}
		c.commandResult(msg.Type, c.View.Open(waID))

	case CmdLoadOlder:
		c.commandResult(msg.Type, c.View.LoadOlder())

	case CmdSendMessage:
		var p SendMessagePayload
		if !c.decode(msg, &p) {
			return
		}
		c.sendResult(msg.Type, session.SendRequest{Text: p.Text})

	case CmdSendTemplate:
		var p SendTemplatePayload
		if !c.decode(msg, &p) {
			return
		}
		c.sendResult(msg.Type, session.SendRequest{Template: &p.Template})

	case CmdRetry:
		var p RetryPayload
		if !c.decode(msg, &p) {
			return
		}
		c.commandResult(msg.Type, c.View.Retry(p.TempID))

	case CmdCloseChat:
		c.commandResult(msg.Type, c.View.Close())

	case CmdSetAuth:
		var p SetAuthPayload
		if !c.decode(msg, &p) {
			return
		}
		if c.Authorize == nil || p.AccessToken == "" {
			c.replyError(msg.Type, CodeUnauthorized, "token rotation not supported")
			return
		}
		if err := c.Authorize(p.AccessToken); err != nil {
			c.replyError(msg.Type, CodeUnauthorized, err.Error())
		}

	default:
		c.replyError(msg.Type, CodeBadRequest, "unknown message type")
	}
}

func (c *Client) decode(msg IncomingMessage, v any) bool {
	if len(msg.Payload) == 0 {
		c.replyError(msg.Type, CodeBadRequest, "missing payload")
		return false
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		c.replyError(msg.Type, CodeBadRequest, "invalid payload")
		return false
	}
	return true
}

func (c *Client) sendResult(cmd EventType, req session.SendRequest) {
	tempID, err := c.View.Send(req)
	if err != nil {
		c.commandResult(cmd, err)
		return
	}
	c.SendMessage(WSMessage{
		Type:      EventSendAccepted,
		ChatID:    c.View.ChatID(),
		Payload:   SendAcceptedPayload{TempID: tempID},
		Timestamp: time.Now(),
	})
}

func (c *Client) commandResult(cmd EventType, err error) {
	if err == nil {
		return
	}
	code := CodeInternal
	switch {
	case errors.Is(err, session.ErrWindowClosed):
		code = CodeWindowClosed
	case errors.Is(err, session.ErrNoConversation):
		code = CodeNoConversation
	case errors.Is(err, session.ErrUnknownMessage):
		code = CodeUnknownMessage
	case errors.Is(err, sender.ErrEmptyMessage), errors.Is(err, sender.ErrInvalidRequest):
		code = CodeBadRequest
	}
	if code == CodeInternal {
		c.log.Warn("websocket_command_failed", zap.String("command", string(cmd)), zap.Error(err))
	}
	c.replyError(cmd, code, err.Error())
}

func (c *Client) replyError(cmd EventType, code, message string) {
	c.SendMessage(WSMessage{
		Type:      EventError,
		Payload:   ErrorPayload{Code: code, Command: cmd, Message: message},
		Timestamp: time.Now(),
	})
}

// ViewSink forwards conversation view events to the browser
func (c *Client) ViewSink() session.Sink {
	return func(e session.Event) {
		c.SendMessage(WSMessage{
			Type:      EventType(e.Type),
			ChatID:    e.ChatID,
			Payload:   e.Payload,
			Timestamp: time.Now(),
		})
	}
}

// SendMessage sends a message to the client. A full buffer drops the message.
func (c *Client) SendMessage(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if !c.enqueue(data) {
		c.log.Warn("client_send_buffer_full", zap.String("type", string(msg.Type)))
	}
	return nil
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
