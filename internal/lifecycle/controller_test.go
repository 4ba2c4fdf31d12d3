package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/okineo/ripple/internal/api"
	"github.com/okineo/ripple/internal/channel"
	"github.com/okineo/ripple/internal/db"
	"github.com/okineo/ripple/internal/models"
	"github.com/okineo/ripple/internal/presence"
	"github.com/okineo/ripple/internal/session"
	"github.com/okineo/ripple/internal/unread"
)

// fakeChannel records the controller's channel interactions and lets
// tests inject incoming events.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	identity  string
	emitted   []models.Envelope
	handlers  map[models.EventName][]channel.EventHandler
	disposals int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[models.EventName][]channel.EventHandler)}
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.identity = ""
	f.handlers = make(map[models.EventName][]channel.EventHandler)
}

func (f *fakeChannel) Identify(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = userID
}

func (f *fakeChannel) EmitSync(event models.EventName, payload any) error {
	data, _ := json.Marshal(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, models.Envelope{Event: event, Payload: data})
	return nil
}

func (f *fakeChannel) On(event models.EventName, handler channel.EventHandler) func() {
	f.mu.Lock()
	f.handlers[event] = append(f.handlers[event], handler)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.disposals++
		f.mu.Unlock()
	}
}

func (f *fakeChannel) OnConnectionChange(channel.StateHandler) func() {
	return func() {}
}

// deliver pushes an event through every registered handler, as the
// read loop would.
func (f *fakeChannel) deliver(t *testing.T, event models.EventName, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	handlers := append([]channel.EventHandler(nil), f.handlers[event]...)
	f.mu.Unlock()
	require.NotEmpty(t, handlers, "no handler registered for %s", event)
	for _, h := range handlers {
		h(&models.Envelope{Event: event, Payload: data})
	}
}

func (f *fakeChannel) emittedEvents() []models.EventName {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]models.EventName, 0, len(f.emitted))
	for _, env := range f.emitted {
		events = append(events, env.Event)
	}
	return events
}

// testService is an in-memory stand-in for the data service.
type testService struct {
	mu       sync.Mutex
	profile  map[string]any
	sawToken string
}

func newTestService() *testService {
	return &testService{
		profile: map[string]any{
			"id":        "u1",
			"username":  "ada",
			"fullname":  "Ada Lovelace",
			"followers": []string{"u2"},
		},
	}
}

func (s *testService) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sawToken
}

func (s *testService) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.sawToken = r.Header.Get("token")
		profile := s.profile
		s.mu.Unlock()

		switch r.URL.Path {
		case "/api/auth/login":
			json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "user": profile})
		case "/api/users/u1":
			json.NewEncoder(w).Encode(profile)
		case "/api/chats/u1/has-unread":
			json.NewEncoder(w).Encode(map[string]bool{"hasUnreadChats": true})
		case "/api/notifications/u1/has-unread":
			json.NewEncoder(w).Encode(map[string]bool{"hasUnreadNotifications": false})
		case "/api/chats/u1":
			json.NewEncoder(w).Encode([]map[string]any{{"id": "c1", "unreadCount": 2}})
		default:
			http.NotFound(w, r)
		}
	})
}

type fixture struct {
	controller *Controller
	store      *session.Store
	channel    *fakeChannel
	aggregator *unread.Aggregator
	sessions   *db.SessionRepository
	service    *testService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	service := newTestService()
	srv := httptest.NewServer(service.handler())
	t.Cleanup(srv.Close)

	database, err := db.Open(filepath.Join(t.TempDir(), "ripple.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	data := api.NewClient(api.Config{BaseURL: srv.URL})
	store := session.NewStore()
	ch := newFakeChannel()
	aggregator := unread.NewAggregator(data)
	sessions := db.NewSessionRepository(database)
	controller := NewController(store, ch, presence.NewTracker(), aggregator, data, sessions)

	return &fixture{
		controller: controller,
		store:      store,
		channel:    ch,
		aggregator: aggregator,
		sessions:   sessions,
		service:    service,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// login authenticates and waits for the post-bind profile refetch to
// land so later asserts do not race with it.
func login(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.controller.Login(context.Background(), "ada", "secret"))
	// Login is version 1; the refetch lands as version 2.
	waitFor(t, func() bool { return f.store.Snapshot().Version >= 2 })
}

func TestStart_NoStoredSessionStaysUnauthenticated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(context.Background()))
	defer f.controller.Stop()

	require.Equal(t, session.StateUnauthenticated, f.store.Snapshot().State)
	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	require.False(t, f.channel.connected)
}

func TestStart_RestoresPersistedSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.Save(context.Background(), "tok-1", "u1"))

	require.NoError(t, f.controller.Start(context.Background()))
	defer f.controller.Stop()

	snap := f.store.Snapshot()
	require.Equal(t, session.StateAuthenticated, snap.State)
	require.Equal(t, "u1", snap.Profile.ID)
	require.Equal(t, "tok-1", f.service.token())

	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	require.True(t, f.channel.connected)
	require.Equal(t, "u1", f.channel.identity)
}

func TestLogin_BindsChannelAndPersists(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(context.Background()))
	defer f.controller.Stop()

	require.NoError(t, f.controller.Login(context.Background(), "ada", "secret"))

	f.channel.mu.Lock()
	require.True(t, f.channel.connected)
	require.Equal(t, "u1", f.channel.identity)
	require.NotEmpty(t, f.channel.handlers[models.EventGetFollowed])
	require.NotEmpty(t, f.channel.handlers[models.EventGetMessage])
	require.NotEmpty(t, f.channel.handlers[models.EventUserConnected])
	f.channel.mu.Unlock()

	stored, err := f.sessions.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", stored.UserID)

	// Initial unread pulls settle against the data service.
	waitFor(t, func() bool {
		snap := f.aggregator.Snapshot()
		return snap.HasUnreadChats && len(snap.Chats) == 1
	})
}

func TestPushDeltaReachesStore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(context.Background()))
	defer f.controller.Stop()
	login(t, f)

	f.channel.deliver(t, models.EventGetFollowed, "u9")
	require.True(t, f.store.Snapshot().Profile.Followers.Has("u9"))

	f.channel.deliver(t, models.EventGetUnfollowed, "u9")
	require.False(t, f.store.Snapshot().Profile.Followers.Has("u9"))
}

func TestMalformedDeltaIsDropped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(context.Background()))
	defer f.controller.Stop()
	login(t, f)
	version := f.store.Snapshot().Version

	f.channel.deliver(t, models.EventGetFollowed, 42)
	f.channel.deliver(t, models.EventGetFollowed, "")

	require.Equal(t, version, f.store.Snapshot().Version)
}

func TestLogout_UnbindsAndAnnouncesDeparture(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(context.Background()))
	defer f.controller.Stop()
	require.NoError(t, f.controller.Login(context.Background(), "ada", "secret"))

	require.NoError(t, f.controller.Logout(context.Background()))

	require.Equal(t, session.StateUnauthenticated, f.store.Snapshot().State)
	require.Contains(t, f.channel.emittedEvents(), models.EventRemoveUser)

	f.channel.mu.Lock()
	require.False(t, f.channel.connected)
	require.GreaterOrEqual(t, f.channel.disposals, 5)
	f.channel.mu.Unlock()

	_, err := f.sessions.Load(context.Background())
	require.ErrorIs(t, err, db.ErrNoSession)

	snap := f.aggregator.Snapshot()
	require.False(t, snap.HasUnreadChats)
	require.Nil(t, snap.Chats)
}

func TestStop_KeepsPersistedSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(context.Background()))
	require.NoError(t, f.controller.Login(context.Background(), "ada", "secret"))

	f.controller.Stop()

	stored, err := f.sessions.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", stored.UserID)

	f.channel.mu.Lock()
	defer f.channel.mu.Unlock()
	require.False(t, f.channel.connected)
}

// wsPeer is a websocket endpoint recording every envelope a real
// channel client sends it.
type wsPeer struct {
	srv      *httptest.Server
	received chan models.Envelope
}

func newWSPeer(t *testing.T) *wsPeer {
	p := &wsPeer{received: make(chan models.Envelope, 16)}
	var upgrader websocket.Upgrader
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env models.Envelope
			if json.Unmarshal(data, &env) == nil {
				p.received <- env
			}
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *wsPeer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *wsPeer) waitEvent(t *testing.T, event models.EventName) models.Envelope {
	t.Helper()
	for {
		select {
		case env := <-p.received:
			if env.Event == event {
				return env
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// The departure announcement has to reach the wire, not just the
// outbound queue: tearing the binding down kills the write pump, so
// this exercises the real client end to end.
func TestLogout_RemoveUserReachesServer(t *testing.T) {
	peer := newWSPeer(t)
	service := newTestService()
	apiSrv := httptest.NewServer(service.handler())
	t.Cleanup(apiSrv.Close)

	database, err := db.Open(filepath.Join(t.TempDir(), "ripple.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	data := api.NewClient(api.Config{BaseURL: apiSrv.URL})
	store := session.NewStore()
	ch := channel.New(channel.Config{URL: peer.url()})
	aggregator := unread.NewAggregator(data)
	controller := NewController(store, ch, presence.NewTracker(), aggregator, data, db.NewSessionRepository(database))

	require.NoError(t, controller.Start(context.Background()))
	defer controller.Stop()
	require.NoError(t, controller.Login(context.Background(), "ada", "secret"))

	env := peer.waitEvent(t, models.EventAddUser)
	id, err := env.UserPayload()
	require.NoError(t, err)
	require.Equal(t, "u1", id)

	require.NoError(t, controller.Logout(context.Background()))

	env = peer.waitEvent(t, models.EventRemoveUser)
	id, err = env.UserPayload()
	require.NoError(t, err)
	require.Equal(t, "u1", id)
}

func TestRelogin_SameUserKeepsBinding(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.controller.Start(context.Background()))
	defer f.controller.Stop()
	require.NoError(t, f.controller.Login(context.Background(), "ada", "secret"))

	before := f.channel.emittedEvents()
	require.NoError(t, f.controller.Login(context.Background(), "ada", "secret"))

	// No removeUser was emitted: the binding survived.
	require.Equal(t, before, f.channel.emittedEvents())
}
