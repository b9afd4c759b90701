package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"mls_chat/internal/model"
	"mls_chat/internal/protocol/engine"
	"mls_chat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterClient is idempotent: registering a known handle returns it.
func (s *HttpServer) RegisterClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req model.RegisterClientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		if req.User == "" || strings.ContainsAny(req.User, ":@") {
			http.Error(w, "invalid user", http.StatusBadRequest)
			return
		}
		if req.Domain == "" {
			req.Domain = s.domain
		}
		if req.ClientID == "" {
			req.ClientID = uuid.NewString()
		}

		handle := model.NewMemberHandle(req.User, req.ClientID, req.Domain)
		existing, err := s.lookupClient(ctx, handle)
		if err != nil {
			log.Error("register client failed", zap.Error(err))
			http.Error(w, "register client failed", http.StatusInternalServerError)
			return
		}

		if existing == nil {
			client := &model.RegisteredClient{
				Handle:    handle,
				User:      handle.User(),
				ClientID:  strings.ToLower(req.ClientID),
				CreatedAt: s.now(),
			}
			if _, err := s.registry.Create(ctx, client); err != nil {
				log.Error("register client failed", zap.Error(err))
				http.Error(w, "register client failed", http.StatusInternalServerError)
				return
			}
			s.clients.Add(handle.String(), client)
			log.Info("registered client", zap.String("client", handle.String()))
		}

		writeJSON(w, http.StatusOK, &model.RegisterClientResponse{Handle: handle})
	}
}

// DeleteClient removes a client and asks every group it is in to remove
// it, using proposals signed with the backend key.
func (s *HttpServer) DeleteClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		client, ok := s.requireClient(w, r)
		if !ok {
			return
		}
		handle := client.Handle

		groups, err := s.redisService.SMembers(ctx, clientGroupsKey(handle))
		if err != nil {
			log.Error("delete client failed", zap.Error(err))
			http.Error(w, "delete client failed", http.StatusInternalServerError)
			return
		}

		for _, g := range groups {
			id, err := model.ParseGroupID(g)
			if err != nil {
				log.Warn("skipping malformed group id", zap.String("group", g), zap.Error(err))
				continue
			}
			if err := s.proposeRemoval(ctx, id, handle); err != nil {
				log.Error("external remove proposal failed", zap.String("group", g), zap.Error(err))
				http.Error(w, "delete client failed", http.StatusInternalServerError)
				return
			}
		}

		if err := s.registry.Delete(ctx, handle); err != nil {
			log.Error("delete client failed", zap.Error(err))
			http.Error(w, "delete client failed", http.StatusInternalServerError)
			return
		}
		s.clients.Remove(handle.String())
		if err := s.redisService.Del(ctx, keyPackagesKey(handle), queueKey(handle), clientGroupsKey(handle)); err != nil {
			log.Warn("cleanup of deleted client failed", zap.Error(err))
		}

		s.mu.RLock()
		c, connected := s.mapper[handle.String()]
		s.mu.RUnlock()
		if connected {
			s.disconnect(handle, c)
		}

		log.Info("deleted client", zap.String("client", handle.String()), zap.Int("groups", len(groups)))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HttpServer) proposeRemoval(ctx context.Context, id model.GroupID, handle model.MemberHandle) error {
	unlock, err := s.locks.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	g, err := s.loadGroup(ctx, id)
	if err != nil || g == nil || !g.isMember(handle) {
		return err
	}

	proposal, err := engine.ExternalProposal(s.backendKey, id, g.epoch, model.Proposal{
		Kind:   model.ProposalRemove,
		Member: handle,
	})
	if err != nil {
		return err
	}

	for _, to := range g.recipients(handle) {
		s.deliver(ctx, &model.Message{
			To:      to,
			GroupID: id,
			Kind:    model.KindProposal,
			Payload: proposal,
		})
	}
	return nil
}
