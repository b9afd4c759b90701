package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"mls_chat/internal/model"
	"mls_chat/internal/protocol/engine"
	"mls_chat/internal/service/redis"
	"mls_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *HttpServer) UploadKeyPackages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, ok := s.requireClient(w, r)
		if !ok {
			return
		}

		var req model.UploadKeyPackagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		if len(req.KeyPackages) == 0 {
			http.Error(w, "no key packages", http.StatusBadRequest)
			return
		}

		vals := make([]any, 0, len(req.KeyPackages))
		for _, kp := range req.KeyPackages {
			if _, err := base64.StdEncoding.DecodeString(kp); err != nil {
				http.Error(w, "key package is not base64", http.StatusBadRequest)
				return
			}
			vals = append(vals, kp)
		}

		if err := s.redisService.RPush(r.Context(), keyPackagesKey(client.Handle), vals...); err != nil {
			log.Error("upload key packages failed", zap.Error(err))
			http.Error(w, "upload key packages failed", http.StatusInternalServerError)
			return
		}
		log.Debug("key packages uploaded", zap.String("client", client.Handle.String()), zap.Int("count", len(vals)))
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *HttpServer) CountKeyPackages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, ok := s.requireClient(w, r)
		if !ok {
			return
		}

		n, err := s.redisService.LLen(r.Context(), keyPackagesKey(client.Handle))
		if err != nil {
			log.Error("count key packages failed", zap.Error(err))
			http.Error(w, "count key packages failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, &model.KeyPackageCount{Count: int(n)})
	}
}

// ClaimKeyPackages hands out one key package per client of the user.
// Clients with an empty pool are left out. The claimant query parameter
// excludes the caller's own client.
func (s *HttpServer) ClaimKeyPackages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vars := mux.Vars(r)
		user := model.ParseQualifiedID(vars["user"], vars["domain"])
		claimant := model.MemberHandle(r.URL.Query().Get("claimant"))

		clients, err := s.registry.ListByUser(ctx, user)
		if err != nil {
			log.Error("claim key packages failed", zap.Error(err))
			http.Error(w, "claim key packages failed", http.StatusInternalServerError)
			return
		}

		res := &model.ClaimedKeyPackages{KeyPackages: []model.KeyPackage{}}
		for _, c := range clients {
			if c.Handle.Equal(claimant) {
				continue
			}
			kp, err := s.redisService.LPop(ctx, keyPackagesKey(c.Handle))
			if redis.IsNil(err) {
				continue
			}
			if err != nil {
				log.Error("claim key packages failed", zap.Error(err))
				http.Error(w, "claim key packages failed", http.StatusInternalServerError)
				return
			}

			claimed := model.KeyPackage{Client: c.Handle, KeyPackage: kp}
			if raw, err := base64.StdEncoding.DecodeString(kp); err == nil {
				claimed.Ref = engine.KeyPackageRef(raw)
			}
			res.KeyPackages = append(res.KeyPackages, claimed)
		}

		s.metrics.KeyPackagesClaimed(len(res.KeyPackages))
		log.Info("key packages claimed", zap.Stringer("user", user), zap.Int("count", len(res.KeyPackages)))
		writeJSON(w, http.StatusOK, res)
	}
}
