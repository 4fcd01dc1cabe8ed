package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"roster-api/models"
	"roster-api/pkg/events"
	"roster-api/store"
	"roster-api/types"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
)

const testSecret = "gateway-test-secret-0123456789abcdef!!"

// capturePublisher records published change descriptors in place of the
// websocket hub.
type capturePublisher struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (p *capturePublisher) Publish(msg events.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *capturePublisher) messages() []events.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

type GatewayTestSuite struct {
	suite.Suite
	srv        *httptest.Server
	roster     *store.Roster
	publisher  *capturePublisher
	aliceToken string
	bobToken   string
}

func (s *GatewayTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.publisher = &capturePublisher{}
	s.roster = store.New(nil).WithPublisher(s.publisher)
	handler := NewEventsHandler(s.roster)

	r := gin.New()
	auth := r.Group("/", AuthMiddleware(testSecret))
	auth.GET("/events", handler.ListEvents)
	auth.POST("/events", handler.CreateEvent)
	auth.POST("/events/:eventId/join", handler.JoinEvent)
	auth.POST("/events/:eventId/leave", handler.LeaveEvent)

	s.srv = httptest.NewServer(r)
	s.aliceToken = s.signToken(1, "alice")
	s.bobToken = s.signToken(2, "bob")
}

func (s *GatewayTestSuite) TearDownTest() {
	s.srv.Close()
}

func (s *GatewayTestSuite) signToken(userID int, userName string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   userID,
		"userName": userName,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	s.Require().NoError(err)
	return signed
}

func (s *GatewayTestSuite) request(method, path, token string, body interface{}) (*http.Response, types.APIResponse) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.srv.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var env types.APIResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (s *GatewayTestSuite) createEvent() models.Event {
	resp, env := s.request(http.MethodPost, "/events", s.aliceToken, map[string]string{
		"name":      "Standup",
		"location":  "Room 1",
		"startTime": "Friday 10 AM",
	})
	s.Equal(http.StatusCreated, resp.StatusCode)
	s.True(env.Success)

	raw, err := json.Marshal(env.Data)
	s.Require().NoError(err)
	var ev models.Event
	s.Require().NoError(json.Unmarshal(raw, &ev))
	return ev
}

func TestGatewayTestSuite(t *testing.T) {
	suite.Run(t, new(GatewayTestSuite))
}

func (s *GatewayTestSuite) TestCreateEventBroadcasts() {
	ev := s.createEvent()
	s.NotEmpty(ev.ID)
	s.Empty(ev.Attendees)

	msgs := s.publisher.messages()
	s.Require().Len(msgs, 1)
	s.Equal(events.TypeEventCreated, msgs[0].Type)
	s.Require().NotNil(msgs[0].Event)
	s.Equal(ev.ID, msgs[0].Event.ID)
}

func (s *GatewayTestSuite) TestCreateEventValidation() {
	resp, env := s.request(http.MethodPost, "/events", s.aliceToken, map[string]string{
		"name": "Standup",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Require().NotNil(env.Error)
	s.Equal(types.ErrorCodeValidation, env.Error.Code)
	s.Empty(s.publisher.messages(), "validation failures never broadcast")
}

func (s *GatewayTestSuite) TestJoinBroadcastsOnce() {
	ev := s.createEvent()

	resp, env := s.request(http.MethodPost, "/events/"+ev.ID+"/join", s.aliceToken, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.True(env.Success)

	// Re-joining is a no-op: same response shape, no second descriptor.
	resp, env = s.request(http.MethodPost, "/events/"+ev.ID+"/join", s.aliceToken, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.True(env.Success)

	var joined []events.Message
	for _, m := range s.publisher.messages() {
		if m.Type == events.TypeEventJoined {
			joined = append(joined, m)
		}
	}
	s.Require().Len(joined, 1)
	s.Equal(ev.ID, joined[0].EventID)
	s.Equal(1, joined[0].UserID)
	s.Equal("alice", joined[0].UserName)
}

func (s *GatewayTestSuite) TestLeaveNoOpSuppressesBroadcast() {
	ev := s.createEvent()

	// Bob was never a member; leave succeeds but announces nothing.
	resp, env := s.request(http.MethodPost, "/events/"+ev.ID+"/leave", s.bobToken, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.True(env.Success)

	for _, m := range s.publisher.messages() {
		s.NotEqual(events.TypeEventLeft, m.Type)
	}
}

func (s *GatewayTestSuite) TestLeaveAfterJoinBroadcasts() {
	ev := s.createEvent()
	s.request(http.MethodPost, "/events/"+ev.ID+"/join", s.bobToken, nil)

	resp, _ := s.request(http.MethodPost, "/events/"+ev.ID+"/leave", s.bobToken, nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	var left []events.Message
	for _, m := range s.publisher.messages() {
		if m.Type == events.TypeEventLeft {
			left = append(left, m)
		}
	}
	s.Require().Len(left, 1)
	s.Equal(2, left[0].UserID)
	s.Equal("bob", left[0].UserName)
}

func (s *GatewayTestSuite) TestJoinUnknownEvent() {
	resp, env := s.request(http.MethodPost, "/events/no-such-event/join", s.aliceToken, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Require().NotNil(env.Error)
	s.Equal(types.ErrorCodeNotFound, env.Error.Code)
	s.Empty(s.publisher.messages())
}

func (s *GatewayTestSuite) TestListEvents() {
	ev := s.createEvent()
	s.request(http.MethodPost, "/events/"+ev.ID+"/join", s.bobToken, nil)

	resp, env := s.request(http.MethodGet, "/events", s.aliceToken, nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	raw, err := json.Marshal(env.Data)
	s.Require().NoError(err)
	var evs []models.Event
	s.Require().NoError(json.Unmarshal(raw, &evs))
	s.Require().Len(evs, 1)
	s.Equal([]models.UserRef{{ID: 2, Name: "bob"}}, evs[0].Attendees)
}

func (s *GatewayTestSuite) TestUnauthenticatedRequestRejected() {
	resp, env := s.request(http.MethodGet, "/events", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Require().NotNil(env.Error)
	s.Equal(types.ErrorCodeUnauthorized, env.Error.Code)
}
