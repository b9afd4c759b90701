package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"mls_chat/internal/metrics"
	"mls_chat/internal/model"
	"mls_chat/internal/service/mls"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var _ mls.Metrics = (*metrics.ClientCollector)(nil)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestClientCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewClientCollector(reg)

	c.CommitExecuted(model.IntentAddMembers, nil)
	c.CommitExecuted(model.IntentAddMembers, &mls.CommitError{Kind: mls.WelcomeDeliveryFailed, Err: errors.New("offline")})
	c.CommitExecuted(model.IntentCommitPendingProposals, &mls.CommitError{Kind: mls.CommitDeliveryFailed, Err: errors.New("offline")})
	c.DueCommitFired()
	c.KeyPackagesUploaded(42)

	out := scrape(t, reg)
	require.Contains(t, out, `mls_client_commits_total{intent="add_members",outcome="success"} 1`)
	require.Contains(t, out, `mls_client_commits_total{intent="add_members",outcome="partial"} 1`)
	require.Contains(t, out, `mls_client_commits_total{intent="commit_pending_proposals",outcome="failure"} 1`)
	require.Contains(t, out, `mls_client_due_commits_fired_total 1`)
	require.Contains(t, out, `mls_client_key_packages_uploaded_total 42`)
}

func TestDeliveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewDeliveryCollector(reg)

	c.MessageAccepted(model.KindCommit)
	c.MessageRejected(model.KindCommit)
	c.MessageRejected(model.KindCommit)
	c.WelcomeRouted()
	c.KeyPackagesClaimed(3)
	c.ClientConnected()
	c.ClientConnected()
	c.ClientDisconnected()

	out := scrape(t, reg)
	require.Contains(t, out, `mls_delivery_messages_total{kind="commit",outcome="accepted"} 1`)
	require.Contains(t, out, `mls_delivery_messages_total{kind="commit",outcome="rejected"} 2`)
	require.Contains(t, out, `mls_delivery_welcomes_routed_total 1`)
	require.Contains(t, out, `mls_delivery_key_packages_claimed_total 3`)
	require.Contains(t, out, `mls_delivery_connected_clients 1`)
}
