package chat

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatgate/logger"
	"chatgate/tools/errs"
	"chatgate/tools/ids"
	"chatgate/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS is the inbound connection endpoint, e.g.
// ws://host:8080/ws?token=<jwt>. It walks the per-connection state machine:
// CONNECTING -> AUTHENTICATED -> ACTIVE -> CLOSED.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	// CONNECTING -> AUTHENTICATED: verify the presented token; on failure
	// close with the authentication error code, no further processing.
	token := c.Query("token")
	userID, username, displayName, aerr := s.auth.Verify(token)
	if aerr != nil {
		logger.Warnf("[ws] authentication failed remote=%s err=%v", ws.RemoteAddr(), aerr)
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(errs.CodeAuthenticationFailure, "authentication failure"), deadline)
		_ = ws.Close()
		return
	}

	// AUTHENTICATED -> ACTIVE: register, ack, start the writer, read.
	client := NewClient(ids.GenerateString(), userID, username, displayName, ws, s.opts.SendQueueSize)
	s.register(client)
	safe.SafeGo(func() {
		client.writePump(s.opts.WriteTimeout, func() {
			s.dropClient(client, "write failure")
		})
	})

	if payload, eerr := NewConnected(userID, username).Encode(); eerr == nil {
		client.enqueue(payload)
	}

	s.readLoop(client, ws)

	// ACTIVE -> CLOSED.
	s.dropClient(client, "transport closed")
}

// readLoop blocks on the transport until it errors or closes. Malformed
// frames are logged and skipped; only transport failures end the loop.
func (s *Server) readLoop(client *Client, ws *websocket.Conn) {
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s err=%v", client.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s err=%v", client.ConnID, rerr)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", client.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		client.Touch()

		env, perr := ParseEnvelope(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[ws] malformed envelope conn=%s err=%v sample=%q", client.ConnID, perr, sample)
			continue
		}

		s.handleFrame(client, env)
	}
}
