package messaging

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/protocol"
)

type fakeController struct {
	mu           sync.Mutex
	endTime      *time.Time
	endTimeSet   bool
	lock         *experience.LockStatus
	interactions int
}

func (f *fakeController) SetEndTime(endTime *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endTime = endTime
	f.endTimeSet = true
}

func (f *fakeController) SetLock(status experience.LockStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lock = &status
}

func (f *fakeController) NotifyInteraction() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions++
}

func (f *fakeController) CurrentExperienceID() *string { return nil }

type routerFixture struct {
	t          *testing.T
	controller *fakeController
	router     *Router
	server     *httptest.Server
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	controller := &fakeController{}
	router := NewRouter(controller)
	mux := chi.NewRouter()
	router.Mount(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &routerFixture{t: t, controller: controller, router: router, server: server}
}

func (f *routerFixture) dial(path string) *websocket.Conn {
	f.t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, m protocol.Message) {
	t.Helper()
	raw, err := protocol.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

// readType reads frames until one of the wanted type arrives, skipping
// heartbeats and other traffic.
func readType(t *testing.T, ws *websocket.Conn, want protocol.Type) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, ws.SetReadDeadline(deadline))
	for {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)
		m, err := protocol.Unmarshal(raw)
		require.NoError(t, err)
		if m.MessageType() == want {
			return m
		}
	}
}

func TestConnectForwardedToAppWithClientID(t *testing.T) {
	f := newFixture(t)
	app := f.dial("/messaging/out/demo")
	client := f.dial("/messaging/in/demo")

	send(t, client, &protocol.Connect{})

	m := readType(t, app, protocol.TypeConnect)
	con := m.(*protocol.Connect)
	assert.NotEmpty(t, con.Client, "router must stamp the sender's id")
}

func TestAcceptanceGateAndApplicationTraffic(t *testing.T) {
	f := newFixture(t)
	app := f.dial("/messaging/out/demo")
	client := f.dial("/messaging/in/demo")

	send(t, client, &protocol.Connect{})
	con := readType(t, app, protocol.TypeConnect).(*protocol.Connect)

	send(t, app, &protocol.Access{Accepted: true, Client: con.Client})
	acc := readType(t, client, protocol.TypeAccess).(*protocol.Access)
	assert.True(t, acc.Accepted)
	assert.Empty(t, acc.Client, "client frames must not carry the client field")

	send(t, client, &protocol.ClientApplication{Body: json.RawMessage(`{"x":1}`)})
	forwarded := readType(t, app, protocol.TypeApplicationClient).(*protocol.ClientApplication)
	assert.Equal(t, con.Client, forwarded.Client)
	assert.JSONEq(t, `{"x":1}`, string(forwarded.Body))

	send(t, app, &protocol.AppApplication{Body: json.RawMessage(`{"y":2}`), Client: con.Client})
	reply := readType(t, client, protocol.TypeApplicationApp).(*protocol.AppApplication)
	assert.Empty(t, reply.Client)
	assert.JSONEq(t, `{"y":2}`, string(reply.Body))

	require.Eventually(t, func() bool {
		f.controller.mu.Lock()
		defer f.controller.mu.Unlock()
		return f.controller.interactions >= 1
	}, time.Second, 10*time.Millisecond, "client traffic counts as interaction")
}

func TestAppFrameToMissingClient(t *testing.T) {
	f := newFixture(t)
	app := f.dial("/messaging/out/demo")

	send(t, app, &protocol.AppApplication{Body: json.RawMessage(`{}`), Client: "ghost"})

	chb := readType(t, app, protocol.TypeClientHeartbeat).(*protocol.ClientHeartbeat)
	assert.False(t, chb.Up)
	assert.Equal(t, []string{"ghost"}, chb.Clients)
}

func TestDisplaySettingsPatchController(t *testing.T) {
	f := newFixture(t)
	app := f.dial("/messaging/out/demo")

	end := time.Now().Add(time.Minute).UnixMilli()
	lock := experience.LockStatus{Limit: 3}
	send(t, app, &protocol.DisplaySettings{Settings: protocol.DisplaySettingsBody{
		EndTime: &end,
		Lock:    &lock,
	}})

	require.Eventually(t, func() bool {
		f.controller.mu.Lock()
		defer f.controller.mu.Unlock()
		return f.controller.endTimeSet && f.controller.lock != nil
	}, time.Second, 10*time.Millisecond)

	f.controller.mu.Lock()
	defer f.controller.mu.Unlock()
	require.NotNil(t, f.controller.endTime)
	assert.Equal(t, end, f.controller.endTime.UnixMilli())
	assert.Equal(t, lock, *f.controller.lock)
}

func TestUnacceptedApplicationFrameDropped(t *testing.T) {
	f := newFixture(t)
	app := f.dial("/messaging/out/demo")
	client := f.dial("/messaging/in/demo")

	// Application traffic before acceptance is dropped without touching the
	// socket; a connect sent afterwards still goes through.
	send(t, client, &protocol.ClientApplication{Body: json.RawMessage(`{"early":true}`)})
	send(t, client, &protocol.Connect{})

	con := readType(t, app, protocol.TypeConnect)
	assert.NotEmpty(t, con.(*protocol.Connect).Client)

	require.NoError(t, app.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		_, raw, err := app.ReadMessage()
		if err != nil {
			break // deadline: no further frames arrived
		}
		m, err := protocol.Unmarshal(raw)
		require.NoError(t, err)
		require.NotEqual(t, protocol.TypeApplicationClient, m.MessageType(),
			"unauthorized frame must not reach the app")
	}
}

func TestAccessRefusalDeliveredBeforeClose(t *testing.T) {
	f := newFixture(t)
	app := f.dial("/messaging/out/demo")
	client := f.dial("/messaging/in/demo")

	send(t, client, &protocol.Connect{})
	con := readType(t, app, protocol.TypeConnect).(*protocol.Connect)

	send(t, app, &protocol.Access{Accepted: false, Client: con.Client})

	acc := readType(t, client, protocol.TypeAccess).(*protocol.Access)
	assert.False(t, acc.Accepted, "refusal frame must reach the client")

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.Eventually(t, func() bool {
		_, _, err := client.ReadMessage()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "connection closes after the refusal")
}

func TestLifecycleStaysAtRouter(t *testing.T) {
	f := newFixture(t)
	app := f.dial("/messaging/out/demo")
	client := f.dial("/messaging/in/demo")

	send(t, client, &protocol.Connect{})
	con := readType(t, app, protocol.TypeConnect).(*protocol.Connect)
	send(t, app, &protocol.Access{Accepted: true, Client: con.Client})
	readType(t, client, protocol.TypeAccess)

	send(t, app, &protocol.Lifecycle{Paused: true})
	// A follow-up app frame bounds the read: if the lifecycle frame had been
	// forwarded it would arrive first.
	send(t, app, &protocol.AppApplication{Body: json.RawMessage(`{"after":1}`), Client: con.Client})

	m := readType(t, client, protocol.TypeApplicationApp).(*protocol.AppApplication)
	assert.JSONEq(t, `{"after":1}`, string(m.Body))
}

func TestHeartbeats(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.router.Run(ctx) }()

	client := f.dial("/messaging/in/demo")
	ahb := readType(t, client, protocol.TypeAppHeartbeat).(*protocol.AppHeartbeat)
	assert.False(t, ahb.Up, "no app connected yet")

	app := f.dial("/messaging/out/demo")
	chb := readType(t, app, protocol.TypeClientHeartbeat).(*protocol.ClientHeartbeat)
	assert.True(t, chb.Up)

	// Every connected client is on the roster, acceptance or not.
	send(t, client, &protocol.Connect{})
	con := readType(t, app, protocol.TypeConnect).(*protocol.Connect)

	require.Eventually(t, func() bool {
		hb := readType(t, app, protocol.TypeClientHeartbeat).(*protocol.ClientHeartbeat)
		return hb.Up && len(hb.Clients) == 1 && hb.Clients[0] == con.Client
	}, 3*time.Second, 10*time.Millisecond, "unaccepted client must appear on the roster")

	up := readType(t, client, protocol.TypeAppHeartbeat).(*protocol.AppHeartbeat)
	assert.True(t, up.Up)
}

func TestClientDisconnectNotifiesApp(t *testing.T) {
	f := newFixture(t)
	app := f.dial("/messaging/out/demo")
	client := f.dial("/messaging/in/demo")

	send(t, client, &protocol.Connect{})
	con := readType(t, app, protocol.TypeConnect).(*protocol.Connect)
	require.NoError(t, client.Close())

	chb := readType(t, app, protocol.TypeClientHeartbeat).(*protocol.ClientHeartbeat)
	assert.False(t, chb.Up)
	assert.Equal(t, []string{con.Client}, chb.Clients)
}
