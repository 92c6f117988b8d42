package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"explorer/internal/engine"
	"explorer/internal/events"
)

const (
	streamBuffer = 256
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// консоль оператора может жить на другом origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents транслирует события запуска в websocket. Первым сообщением
// уходит текущий статус; соединение закрывается после терминального статуса.
func (s *Server) streamEvents(c *gin.Context) {
	id := c.Param("id")
	ch, unsubscribe, err := s.runs.Subscribe(id, streamBuffer)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Не удалось открыть websocket", zap.String("run_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	// Читаем, чтобы обработать close и pong от клиента.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	run, err := s.runs.Get(id)
	if err != nil {
		return
	}
	first := events.Event{
		Kind:       events.KindStatus,
		RunID:      id,
		StepNumber: len(run.Steps),
		Status:     string(run.Status),
		Reason:     run.Reason,
		Timestamp:  time.Now(),
	}
	if !s.send(conn, first) || run.Status.Terminal() {
		s.closeStream(conn)
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				s.closeStream(conn)
				return
			}
			if !s.send(conn, e) {
				return
			}
			if e.Kind == events.KindStatus && engine.Status(e.Status).Terminal() {
				s.closeStream(conn)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, e events.Event) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(e); err != nil {
		s.log.Debug("Клиент websocket отключился", zap.String("run_id", e.RunID), zap.Error(err))
		return false
	}
	return true
}

func (s *Server) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "запуск завершён")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
