package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"mls_chat/internal/cryptographic/signature"
	"mls_chat/internal/model"
	"mls_chat/internal/service/redis"
	"mls_chat/internal/utils/keylock"
	"mls_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const clientCacheSize = 4096

type (
	// ClientRegistry is where registered clients are persisted.
	ClientRegistry interface {
		GetByHandle(ctx context.Context, handle model.MemberHandle) (*model.RegisteredClient, error)
		ListByUser(ctx context.Context, user model.QualifiedID) ([]*model.RegisteredClient, error)
		Create(ctx context.Context, client *model.RegisteredClient) (primitive.ObjectID, error)
		Delete(ctx context.Context, handle model.MemberHandle) error
	}

	Metrics interface {
		MessageAccepted(kind model.MessageKind)
		MessageRejected(kind model.MessageKind)
		WelcomeRouted()
		KeyPackagesClaimed(n int)
		ClientConnected()
		ClientDisconnected()
		MessageQueued()
	}

	Options struct {
		Domain         string
		Metrics        Metrics
		MetricsHandler http.Handler
	}

	// HttpServer is the delivery service. It orders commits per group,
	// fans messages out to connected clients and queues them for the
	// others.
	HttpServer struct {
		mu     sync.RWMutex
		mapper map[string]*connection

		registry     ClientRegistry
		clients      *lru.Cache[string, *model.RegisteredClient]
		redisService *redis.RedisService
		locks        *keylock.Locker

		backendKey []byte
		backendPub []byte

		domain         string
		metrics        Metrics
		metricsHandler http.Handler
		server         *http.Server
		now            func() time.Time
	}

	connection struct {
		mu   sync.Mutex
		conn *websocket.Conn
	}
)

func NewHttpServer(registry ClientRegistry, redisSvc *redis.RedisService, backendKey []byte, opts Options) (*HttpServer, error) {
	pub, err := signature.PublicKey(backendKey)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *model.RegisteredClient](clientCacheSize)
	if err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Domain == "" {
		opts.Domain = "localhost"
	}

	return &HttpServer{
		mapper:         make(map[string]*connection),
		registry:       registry,
		clients:        cache,
		redisService:   redisSvc,
		locks:          keylock.New(),
		backendKey:     backendKey,
		backendPub:     pub,
		domain:         opts.Domain,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		now:            time.Now,
	}, nil
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/ws", s.HandleInitWS()).Methods(http.MethodGet)
	r.HandleFunc("/v1/clients", s.RegisterClient()).Methods(http.MethodPost)
	r.HandleFunc("/v1/clients/{client}", s.DeleteClient()).Methods(http.MethodDelete)
	r.HandleFunc("/v1/clients/{client}/key-packages", s.UploadKeyPackages()).Methods(http.MethodPost)
	r.HandleFunc("/v1/clients/{client}/key-packages/count", s.CountKeyPackages()).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{domain}/{user}/key-packages/claim", s.ClaimKeyPackages()).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages", s.PostMessage()).Methods(http.MethodPost)
	r.HandleFunc("/v1/welcome", s.PostWelcome()).Methods(http.MethodPost)
	r.HandleFunc("/v1/public-keys", s.GetPublicKeys()).Methods(http.MethodGet)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
	return r
}

// Start serves on addr in the background until Shutdown.
func (s *HttpServer) Start(addr string) {
	s.server = &http.Server{Addr: addr, Handler: s.Router()}
	log.Info("delivery service listening", zap.String("address", addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("delivery service stopped", zap.Error(err))
		}
	}()
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, c := range s.mapper {
		c.conn.Close()
		delete(s.mapper, id)
	}
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HttpServer) GetPublicKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, &model.BackendPublicKeys{
			Removal: model.RemovalKeys{Ed25519: s.backendPub},
		})
	}
}

// lookupClient reads through the registry cache.
func (s *HttpServer) lookupClient(ctx context.Context, handle model.MemberHandle) (*model.RegisteredClient, error) {
	if c, ok := s.clients.Get(handle.String()); ok {
		return c, nil
	}
	c, err := s.registry.GetByHandle(ctx, handle)
	if err != nil || c == nil {
		return nil, err
	}
	s.clients.Add(handle.String(), c)
	return c, nil
}

// requireClient resolves the {client} route variable to a registered
// client and writes the error response itself when that fails.
func (s *HttpServer) requireClient(w http.ResponseWriter, r *http.Request) (*model.RegisteredClient, bool) {
	handle, err := model.ParseMemberHandle(mux.Vars(r)["client"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	c, err := s.lookupClient(r.Context(), handle)
	if err != nil {
		log.Error("lookup client failed", zap.Error(err))
		http.Error(w, "lookup client failed", http.StatusInternalServerError)
		return nil, false
	}
	if c == nil {
		http.Error(w, "client does not exist", http.StatusNotFound)
		return nil, false
	}
	return c, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "marshal response failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

type noopMetrics struct{}

func (noopMetrics) MessageAccepted(model.MessageKind) {}
func (noopMetrics) MessageRejected(model.MessageKind) {}
func (noopMetrics) WelcomeRouted()                    {}
func (noopMetrics) KeyPackagesClaimed(int)            {}
func (noopMetrics) ClientConnected()                  {}
func (noopMetrics) ClientDisconnected()               {}
func (noopMetrics) MessageQueued()                    {}
