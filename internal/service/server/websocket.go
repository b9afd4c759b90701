package server

import (
	"context"
	"net/http"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		handle, err := model.ParseMemberHandle(r.URL.Query().Get("client"))
		if err != nil {
			http.Error(w, "client cannot be empty", http.StatusBadRequest)
			return
		}

		client, err := s.lookupClient(r.Context(), handle)
		if err != nil {
			log.Error("lookup client failed", zap.Error(err))
			http.Error(w, "lookup client failed", http.StatusInternalServerError)
			return
		}
		if client == nil {
			http.Error(w, "client does not exist", http.StatusNotFound)
			return
		}

		s.mu.RLock()
		_, ok := s.mapper[handle.String()]
		s.mu.RUnlock()
		if ok {
			http.Error(w, "duplicated client", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &connection{conn: conn}
		c.mu.Lock()
		s.mu.Lock()
		if _, ok := s.mapper[handle.String()]; ok {
			s.mu.Unlock()
			c.mu.Unlock()
			conn.Close()
			return
		}
		s.mapper[handle.String()] = c
		s.mu.Unlock()
		s.metrics.ClientConnected()

		// Queued messages go out before anything delivered live.
		err = s.forwardUnsentMessages(context.Background(), handle, c)
		c.mu.Unlock()
		if err != nil {
			log.Error("forward msg failed", zap.Error(err))
		}

		go s.processWSMessage(handle, c)
	}
}

// processWSMessage only watches the connection; clients send over HTTP.
func (s *HttpServer) processWSMessage(handle model.MemberHandle, c *connection) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			log.Debug("worker web socket closed", zap.String("client", handle.String()), zap.Error(err))
			s.disconnect(handle, c)
			return
		}
	}
}

func (s *HttpServer) disconnect(handle model.MemberHandle, c *connection) {
	s.mu.Lock()
	if s.mapper[handle.String()] == c {
		delete(s.mapper, handle.String())
		s.metrics.ClientDisconnected()
	}
	s.mu.Unlock()
	c.conn.Close()
}

func (s *HttpServer) forwardUnsentMessages(ctx context.Context, handle model.MemberHandle, c *connection) error {
	messages, err := s.GetMessagesFromCache(ctx, handle)
	if err != nil {
		return err
	}

	for i, message := range messages {
		if err := c.conn.WriteJSON(message); err != nil {
			// Put back what could not be sent.
			if perr := s.PutMessagesToCache(ctx, handle, messages[i:]); perr != nil {
				log.Error("requeue messages failed", zap.Error(perr))
			}
			return err
		}
	}
	return nil
}

// deliver pushes msg to its recipient or queues it while the recipient is
// offline. The read lock keeps a connecting client from draining its queue
// between the lookup and the push.
func (s *HttpServer) deliver(ctx context.Context, msg *model.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.mapper[msg.To.String()]; ok {
		c.mu.Lock()
		err := c.conn.WriteJSON(msg)
		c.mu.Unlock()
		if err == nil {
			return
		}
		log.Debug("live delivery failed, queueing", zap.String("client", msg.To.String()), zap.Error(err))
	}

	if err := s.PutMessagesToCache(ctx, msg.To, []*model.Message{msg}); err != nil {
		log.Error("PutMessagesToCache failed", zap.Error(err))
		return
	}
	s.metrics.MessageQueued()
}
