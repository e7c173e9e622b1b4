package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-session-service/internal/domain/anpr"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNATSPublisher_PublishesSessionEvents(t *testing.T) {
	url := startTestNATS(t)

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	msgs := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("anpr.session.>", msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	entry := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	session := &anpr.Session{
		ID:       "s-1",
		Identity: anpr.Identity{Organization: "org-1", SubID: "sub-1", RegNum: "ABC123"},
		Status:   anpr.StatusOpen,
		Entry:    &anpr.SessionPoint{Time: entry, CamID: "gate-in", LogID: "42"},
	}
	require.NoError(t, pub.Publish(context.Background(), TopicSessionOpened, SessionChanged{Session: session, CamID: "gate-in", LogID: "42"}))

	select {
	case msg := <-msgs:
		assert.Equal(t, TopicSessionOpened, msg.Subject)

		var got SessionChanged
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "s-1", got.Session.ID)
		assert.Equal(t, "ABC123", got.Session.RegNum)
		assert.Equal(t, anpr.StatusOpen, got.Session.Status)
		assert.True(t, entry.Equal(got.Session.Entry.Time))
		assert.Equal(t, "42", got.LogID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", nats.Timeout(200*time.Millisecond), nats.NoReconnect())
	require.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = &NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), TopicSessionClosed, SessionsAbandoned{Count: 3}))
	assert.NoError(t, p.Close())
}
