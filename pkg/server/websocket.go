package server

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/Keiii25/lean-formal-agent/pkg/dispatch"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// handleAgentWS answers dispatcher messages on one websocket. Messages are
// handled in arrival order and every message gets exactly one reply; a
// failed dispatch replies with the error object and keeps the socket open.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("server.ws.accept.error", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Debug("server.ws.read.error", slog.String("error", err.Error()))
			}
			return
		}

		var reply []byte
		if typ != websocket.MessageText {
			reply = dispatch.EncodeError(errors.New(errors.CodeMalformedRequest, "messages must be text frames", nil))
		} else if reply, err = s.dispatcher.Dispatch(ctx, data); err != nil {
			s.logger.Info("server.ws.dispatch.error",
				slog.String("code", string(errors.CodeOf(err))),
				slog.String("error", err.Error()),
			)
			reply = dispatch.EncodeError(err)
		}

		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			s.logger.Debug("server.ws.write.error", slog.String("error", err.Error()))
			return
		}
	}
}
