package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"roster-api/handlers"
	"roster-api/models"
	"roster-api/pkg/notify"
	"roster-api/store"
	"roster-api/websocket"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "integration-test-secret-0123456789abcdef"

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := websocket.NewHub()
	roster := store.New(nil).WithPublisher(&notify.WSBroadcaster{Hub: hub})
	eventsHandler := handlers.NewEventsHandler(roster)

	r := gin.New()
	auth := r.Group("/", handlers.AuthMiddleware(testSecret))
	auth.GET("/ws", websocket.ServeWS(hub))
	auth.GET("/events", eventsHandler.ListEvents)
	auth.POST("/events", eventsHandler.CreateEvent)
	auth.POST("/events/:eventId/join", eventsHandler.JoinEvent)
	auth.POST("/events/:eventId/leave", eventsHandler.LeaveEvent)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, user models.UserRef) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   user.ID,
		"userName": user.Name,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func startReconciler(t *testing.T, ctx context.Context, baseURL string, user models.UserRef) *Reconciler {
	t.Helper()
	api := NewAPI(baseURL)
	api.SetToken(signToken(t, user))
	rec := NewReconciler(api, user)
	go rec.Run(ctx)
	rec.Connect(ctx)
	require.Eventually(t, func() bool {
		return rec.State() == Subscribed
	}, 5*time.Second, 10*time.Millisecond, "reconciler did not subscribe")
	return rec
}

func rosterOf(rec *Reconciler, eventID string) []models.UserRef {
	for _, ev := range rec.Events() {
		if ev.ID == eventID {
			return ev.Attendees
		}
	}
	return nil
}

func TestClientsConvergeOnSharedRoster(t *testing.T) {
	srv := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := models.UserRef{ID: 1, Name: "alice"}
	bob := models.UserRef{ID: 2, Name: "bob"}
	recA := startReconciler(t, ctx, srv.URL, alice)
	recB := startReconciler(t, ctx, srv.URL, bob)

	// Alice creates an event; both clients learn of it via broadcast.
	recA.CreateEvent("Standup", "Room 1", "Friday 10 AM")
	var eventID string
	require.Eventually(t, func() bool {
		evs := recB.Events()
		if len(evs) != 1 {
			return false
		}
		eventID = evs[0].ID
		return true
	}, 5*time.Second, 10*time.Millisecond)

	// Both join; every client converges on {alice, bob}.
	recA.Join(eventID)
	recB.Join(eventID)
	want := []models.UserRef{alice, bob}
	for _, rec := range []*Reconciler{recA, recB} {
		rec := rec
		require.Eventually(t, func() bool {
			got := rosterOf(rec, eventID)
			return len(got) == 2 && got[0] == want[0] && got[1] == want[1]
		}, 5*time.Second, 10*time.Millisecond)
	}

	// Alice leaves; both converge on {bob}.
	recA.Leave(eventID)
	for _, rec := range []*Reconciler{recA, recB} {
		rec := rec
		require.Eventually(t, func() bool {
			got := rosterOf(rec, eventID)
			return len(got) == 1 && got[0] == bob
		}, 5*time.Second, 10*time.Millisecond)
	}
}

func TestDisconnectedClientConvergesAfterResync(t *testing.T) {
	srv := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := models.UserRef{ID: 1, Name: "alice"}
	bob := models.UserRef{ID: 2, Name: "bob"}
	recA := startReconciler(t, ctx, srv.URL, alice)
	recB := startReconciler(t, ctx, srv.URL, bob)

	recA.CreateEvent("Standup", "Room 1", "Friday 10 AM")
	var eventID string
	require.Eventually(t, func() bool {
		evs := recB.Events()
		if len(evs) != 1 {
			return false
		}
		eventID = evs[0].ID
		return true
	}, 5*time.Second, 10*time.Millisecond)

	// Bob goes offline and misses alice's join entirely.
	recB.Disconnect()
	require.Eventually(t, func() bool {
		return recB.State() == Disconnected
	}, 5*time.Second, 10*time.Millisecond)

	recA.Join(eventID)
	require.Eventually(t, func() bool {
		got := rosterOf(recA, eventID)
		return len(got) == 1 && got[0] == alice
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, rosterOf(recB, eventID), "missed delta must not appear while offline")

	// Reconnect: the snapshot brings bob back in sync with the server.
	recB.Connect(ctx)
	require.Eventually(t, func() bool {
		got := rosterOf(recB, eventID)
		return recB.State() == Subscribed && len(got) == 1 && got[0] == alice
	}, 5*time.Second, 10*time.Millisecond)
}
