package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/service/mls"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

var _ mls.DeliveryGateway = (*Client)(nil)

func newTestClient(t *testing.T, r *mux.Router) *Client {
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithRetry(time.Millisecond, 3))
	require.NoError(t, err)
	return c
}

func TestClient_RegisterAndClaim(t *testing.T) {
	alice := model.NewMemberHandle("alice", "c1", "example.com")
	bob := model.NewMemberHandle("bob", "c1", "example.com")

	r := mux.NewRouter()
	r.HandleFunc("/v1/clients", func(w http.ResponseWriter, r *http.Request) {
		var req model.RegisterClientRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "alice", req.User)
		json.NewEncoder(w).Encode(&model.RegisterClientResponse{Handle: model.NewMemberHandle(req.User, "c1", req.Domain)})
	}).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/{domain}/{user}/key-packages/claim", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bob", mux.Vars(r)["user"])
		require.Equal(t, alice.String(), r.URL.Query().Get("claimant"))
		json.NewEncoder(w).Encode(&model.ClaimedKeyPackages{KeyPackages: []model.KeyPackage{{Client: bob, KeyPackage: "a3A="}}})
	}).Methods(http.MethodPost)

	c := newTestClient(t, r)
	ctx := context.Background()

	handle, err := c.Register(ctx, "alice", "example.com", "")
	require.NoError(t, err)
	require.True(t, handle.Equal(alice))
	require.True(t, c.Self().Equal(alice))

	kps, err := c.ClaimKeyPackages(ctx, model.QualifiedID{ID: "bob", Domain: "example.com"})
	require.NoError(t, err)
	require.Len(t, kps, 1)
	require.True(t, kps[0].Client.Equal(bob))
}

func TestClient_SendMessage(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == "stale" {
			http.Error(w, "stale epoch", http.StatusConflict)
			return
		}
		require.Equal(t, messageContent, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&model.MessageSendingStatus{Events: []model.Event{{ID: "e1", Type: model.EventMemberJoin}}})
	}).Methods(http.MethodPost)

	c := newTestClient(t, r)
	ctx := context.Background()

	events, err := c.SendMessage(ctx, []byte("commit"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "e1", events[0].ID)

	_, err = c.SendMessage(ctx, []byte("stale"))
	require.ErrorIs(t, err, ErrConflict)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestClient_ReadsAreRetried(t *testing.T) {
	calls := atomic.NewInt32(0)
	r := mux.NewRouter()
	r.HandleFunc("/v1/public-keys", func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(&model.BackendPublicKeys{Removal: model.RemovalKeys{Ed25519: []byte("key")}})
	}).Methods(http.MethodGet)

	c := newTestClient(t, r)
	keys, err := c.FetchBackendPublicKeys(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("key"), keys.Removal.Ed25519)
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	calls := atomic.NewInt32(0)
	r := mux.NewRouter()
	r.HandleFunc("/v1/clients/{client}/key-packages/count", func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		http.Error(w, "client does not exist", http.StatusNotFound)
	}).Methods(http.MethodGet)

	c := newTestClient(t, r)
	_, err := c.CountUnclaimedKeyPackages(context.Background(), model.NewMemberHandle("alice", "c1", "example.com"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesGiveUp(t *testing.T) {
	calls := atomic.NewInt32(0)
	r := mux.NewRouter()
	r.HandleFunc("/v1/public-keys", func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}).Methods(http.MethodGet)

	c := newTestClient(t, r)
	_, err := c.FetchBackendPublicKeys(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.Code)
	require.Equal(t, int32(4), calls.Load())
}

func TestClient_Subscribe(t *testing.T) {
	alice := model.NewMemberHandle("alice", "c1", "example.com")
	upgrader := websocket.Upgrader{}

	r := mux.NewRouter()
	r.HandleFunc("/v1/clients", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&model.RegisterClientResponse{Handle: alice})
	}).Methods(http.MethodPost)
	r.HandleFunc("/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, alice.String(), r.URL.Query().Get("client"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(&model.Message{To: alice, Kind: model.KindApplication, Payload: []byte("hi")})
		conn.ReadMessage()
	}).Methods(http.MethodGet)

	c := newTestClient(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.ErrorIs(t, c.Subscribe(ctx, func(*model.Message) {}), errNotRegistered)

	_, err := c.Register(ctx, "alice", "example.com", "c1")
	require.NoError(t, err)

	received := make(chan *model.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(ctx, func(m *model.Message) { received <- m })
	}()

	select {
	case m := <-received:
		require.Equal(t, []byte("hi"), m.Payload)
		require.True(t, m.To.Equal(alice))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not stop")
	}
}
