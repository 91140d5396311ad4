package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/23skdu/longbow-kurdish/internal/logger"
	"github.com/23skdu/longbow-kurdish/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 512 * 1024
)

// Message types. The client sends translate, swap, theme, direction and state;
// the server answers with state, status and error.
const (
	MsgTranslate = "translate"
	MsgSwap      = "swap"
	MsgTheme     = "theme"
	MsgDirection = "direction"
	MsgState     = "state"
	MsgStatus    = "status"
	MsgError     = "error"
)

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TranslatePayload struct {
	Text string `json:"text"`
}

type DirectionPayload struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type StatusPayload struct {
	State string `json:"state"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Connection struct {
	conn    *websocket.Conn
	app     *App
	session *session.Session
	log     *logger.Logger

	send chan []byte
	// stopChan closes when writePump exits; senders stop waiting on it.
	stopChan chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func WebSocketHandler(app *App, cors *CORSMiddleware) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     cors.AllowsWebSocket,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var cookie string
		if c, err := r.Cookie(SessionCookie); err == nil {
			cookie = c.Value
		}
		sess, created := app.Sessions.GetOrCreate(cookie)
		header := http.Header{}
		if created {
			header.Add("Set-Cookie", app.sessionCookie(r, sess.ID()).String())
		}

		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			app.log.Warn("websocket upgrade failed", "err", err)
			RecordError("websocket_upgrade")
			return
		}

		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		client := &Connection{
			conn:     conn,
			app:      app,
			session:  sess,
			log:      logger.Log.With("websocket"),
			send:     make(chan []byte, 256),
			stopChan: make(chan struct{}),
			ctx:      ctx,
			cancel:   cancel,
		}
		activeConnections.Inc()

		go client.writePump()
		client.push(MsgState, sess.Snapshot())
		go client.readPump()
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.cancel()
		c.wg.Wait()
		c.conn.Close()
		close(c.send)
		activeConnections.Dec()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "session", c.session.ID(), "err", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("INVALID_REQUEST", "Invalid JSON format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.stopChan)
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) handleMessage(msg WSMessage) {
	switch msg.Type {
	case MsgTranslate:
		wsMessages.WithLabelValues(msg.Type).Inc()
		var p TranslatePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			c.sendError("INVALID_REQUEST", "Invalid translate request")
			return
		}
		if c.session.Busy() {
			c.sendFailure(session.ErrBusy)
			return
		}
		// Translation runs off the read loop so pongs and further messages are
		// still read while the model works.
		c.wg.Add(1)
		go c.translate(p.Text)
	case MsgSwap:
		wsMessages.WithLabelValues(msg.Type).Inc()
		c.reply(c.session.SwapLanguages())
	case MsgTheme:
		wsMessages.WithLabelValues(msg.Type).Inc()
		c.reply(c.session.ToggleTheme())
	case MsgDirection:
		wsMessages.WithLabelValues(msg.Type).Inc()
		var p DirectionPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			c.sendError("INVALID_REQUEST", "Invalid direction request")
			return
		}
		c.reply(c.setDirection(p))
	case MsgState:
		wsMessages.WithLabelValues(msg.Type).Inc()
		c.push(MsgState, c.session.Snapshot())
	default:
		wsMessages.WithLabelValues("unknown").Inc()
		c.sendError("UNKNOWN_TYPE", "Unknown message type: "+msg.Type)
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (c *Connection) setDirection(p DirectionPayload) (session.State, error) {
	langs := c.app.Engine.Languages
	source, err := langs.Parse(p.Source)
	if err != nil {
		return c.session.Snapshot(), err
	}
	target, err := langs.Parse(p.Target)
	if err != nil {
		return c.session.Snapshot(), err
	}
	return c.session.SetDirection(source, target)
}

func (c *Connection) translate(text string) {
	defer c.wg.Done()

	dir := c.session.Snapshot().Direction()
	if strings.TrimSpace(text) != "" {
		c.push(MsgStatus, StatusPayload{State: string(session.StatusLoading)})
	}
	st, err := c.session.Submit(c.ctx, text, c.app.Engine.Translator)
	if errors.Is(err, session.ErrBusy) {
		c.sendFailure(err)
		return
	}
	c.push(MsgState, st)
	if err != nil {
		c.sendFailure(err)
		c.log.Debug("translation failed", "session", c.session.ID(), "direction", dir.String(), "err", err)
	}
}

func (c *Connection) reply(st session.State, err error) {
	if err != nil {
		c.sendFailure(err)
		return
	}
	c.push(MsgState, st)
}

func (c *Connection) sendFailure(err error) {
	_, kind := classify(err)
	RecordError(kind)
	var code string
	switch kind {
	case "model_load":
		code = "MODEL_LOAD_ERROR"
	case "translation":
		code = "TRANSLATION_ERROR"
	case "validation":
		code = "INVALID_REQUEST"
	case "busy":
		code = "BUSY"
	case "canceled":
		code = "CANCELED"
	default:
		code = "INTERNAL_ERROR"
	}
	msg := err.Error()
	if kind == "model_load" || kind == "translation" || kind == "canceled" {
		msg = session.ErrorMessage(err)
	}
	c.sendError(code, msg)
}

func (c *Connection) push(msgType string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("encode websocket message", "type", msgType, "err", err)
		return
	}
	data, err := json.Marshal(WSMessage{Type: msgType, Payload: body})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.stopChan:
	}
}

func (c *Connection) sendError(code, message string) {
	c.push(MsgError, ErrorPayload{Code: code, Message: message})
}
