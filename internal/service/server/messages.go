package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxMessageSize = 1 << 20

var (
	errStaleEpoch   = errors.New("stale epoch")
	errUnknownGroup = errors.New("unknown group")
	errNotMember    = errors.New("sender is not a group member")
	errBadMessage   = errors.New("malformed message")
)

func readEnvelope(r *http.Request) ([]byte, *model.Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		return nil, nil, err
	}
	env, err := model.DecodeEnvelope(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadMessage, err)
	}
	return body, env, nil
}

// PostMessage accepts commits, proposals and application messages. A commit
// is only accepted for the epoch the group is at; the first commit of a
// group creates it with the sender as its only member.
func (s *HttpServer) PostMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, env, err := readEnvelope(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if env.Kind == model.KindWelcome || env.External || len(env.Sender) == 0 {
			s.metrics.MessageRejected(env.Kind)
			http.Error(w, "message cannot be sent here", http.StatusBadRequest)
			return
		}

		events, err := s.routeMessage(ctx, raw, env)
		switch {
		case err == nil:
		case errors.Is(err, errStaleEpoch):
			s.metrics.MessageRejected(env.Kind)
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case errors.Is(err, errUnknownGroup):
			s.metrics.MessageRejected(env.Kind)
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, errNotMember):
			s.metrics.MessageRejected(env.Kind)
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		default:
			log.Error("post message failed", zap.Error(err))
			http.Error(w, "post message failed", http.StatusInternalServerError)
			return
		}

		s.metrics.MessageAccepted(env.Kind)
		if events == nil {
			events = []model.Event{}
		}
		writeJSON(w, http.StatusCreated, &model.MessageSendingStatus{Events: events, Time: s.now()})
	}
}

func (s *HttpServer) routeMessage(ctx context.Context, raw []byte, env *model.Envelope) ([]model.Event, error) {
	unlock, err := s.locks.Lock(ctx, env.GroupID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	g, err := s.loadGroup(ctx, env.GroupID)
	if err != nil {
		return nil, err
	}

	if g == nil {
		if env.Kind != model.KindCommit {
			return nil, errUnknownGroup
		}
		if env.Epoch != 0 {
			return nil, fmt.Errorf("%w: first commit for %d", errStaleEpoch, env.Epoch)
		}
		if g, err = s.createGroup(ctx, env.GroupID, env.Sender); err != nil {
			return nil, err
		}
	}

	if env.Epoch != g.epoch {
		log.Info("rejecting message for stale epoch",
			zap.String("group", env.GroupID.String()),
			zap.Stringer("kind", env.Kind),
			zap.Uint64("epoch", env.Epoch),
			zap.Uint64("current", g.epoch))
		return nil, fmt.Errorf("%w: message for %d, group at %d", errStaleEpoch, env.Epoch, g.epoch)
	}
	if !g.isMember(env.Sender) {
		return nil, errNotMember
	}

	var events []model.Event
	recipients := g.recipients(env.Sender)
	if env.Kind == model.KindCommit {
		if err := s.applyCommit(ctx, env.GroupID, g, env.Added, env.Removed); err != nil {
			return nil, err
		}
		events = s.membershipEvents(env)
		log.Info("commit accepted",
			zap.String("group", env.GroupID.String()),
			zap.Uint64("epoch", env.Epoch+1),
			zap.Int("added", len(env.Added)),
			zap.Int("removed", len(env.Removed)))
	}

	for _, to := range recipients {
		s.deliver(ctx, &model.Message{
			From:    env.Sender,
			To:      to,
			GroupID: env.GroupID,
			Kind:    env.Kind,
			Payload: raw,
		})
	}
	return events, nil
}

func (s *HttpServer) membershipEvents(env *model.Envelope) []model.Event {
	var events []model.Event
	now := s.now()
	if len(env.Added) > 0 {
		events = append(events, model.Event{
			ID:      uuid.NewString(),
			Type:    model.EventMemberJoin,
			GroupID: env.GroupID,
			From:    env.Sender,
			Members: env.Added,
			Time:    now,
		})
	}
	if len(env.Removed) > 0 {
		events = append(events, model.Event{
			ID:      uuid.NewString(),
			Type:    model.EventMemberLeave,
			GroupID: env.GroupID,
			From:    env.Sender,
			Members: env.Removed,
			Time:    now,
		})
	}
	return events
}

// PostWelcome routes a welcome to the clients named in it.
func (s *HttpServer) PostWelcome() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, env, err := readEnvelope(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if env.Kind != model.KindWelcome || len(env.Recipients) == 0 {
			http.Error(w, "not a welcome", http.StatusBadRequest)
			return
		}

		for _, to := range env.Recipients {
			s.deliver(r.Context(), &model.Message{
				From:    env.Sender,
				To:      to,
				GroupID: env.GroupID,
				Kind:    model.KindWelcome,
				Payload: raw,
			})
		}
		s.metrics.WelcomeRouted()
		log.Info("welcome routed", zap.String("group", env.GroupID.String()), zap.Int("recipients", len(env.Recipients)))
		w.WriteHeader(http.StatusCreated)
	}
}
