package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoarinFerret/FocusWarden/internal/analyzer"
	"github.com/SoarinFerret/FocusWarden/internal/block"
	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/engine"
	"github.com/SoarinFerret/FocusWarden/internal/gatekeeper"
	"github.com/SoarinFerret/FocusWarden/internal/landmarks"
	"github.com/SoarinFerret/FocusWarden/internal/metrics"
	"github.com/SoarinFerret/FocusWarden/internal/state"
)

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	engine *engine.Engine
	blocks *block.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	blocks := block.NewRegistry(state.NewMemoryStore())
	eng, err := engine.NewEngine(engine.Options{Blocks: blocks, SweepInterval: time.Hour})
	require.NoError(t, err)

	opts := gatekeeper.DefaultOptions()
	opts.SampleInterval = 20 * time.Millisecond

	det := detector.NewPassthrough()
	require.NoError(t, det.Initialize(context.Background()))

	srv, err := New(Config{PingInterval: time.Minute, CaptureTimeout: 200 * time.Millisecond}, Deps{
		Engine:     eng,
		Detector:   det,
		Analyzer:   analyzer.DefaultConfig(),
		Gatekeeper: opts,
		Metrics:    metrics.New(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ts.Close()
		cancel()
		<-done
	})
	return &testEnv{srv: srv, ts: ts, engine: eng, blocks: blocks}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	welcome := readUntil(t, conn, MsgWelcome, nil)
	var p WelcomePayload
	require.NoError(t, json.Unmarshal(welcome.Payload, &p))
	require.NotEmpty(t, p.ClientID)
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, typ string, payload interface{}) {
	t.Helper()
	msg, err := newMessage(typ, "", payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil skips messages until one of type typ satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, match func(Message) bool) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", typ)
		if msg.Type == typ && (match == nil || match(msg)) {
			return msg
		}
	}
}

func decodeStatus(t *testing.T, msg Message) StatusPayload {
	t.Helper()
	var p StatusPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	return p
}

func statusIn(s gatekeeper.State) func(Message) bool {
	return func(msg Message) bool {
		var p StatusPayload
		return json.Unmarshal(msg.Payload, &p) == nil && p.Status.State == s
	}
}

func eventIs(kind gatekeeper.EventKind) func(Message) bool {
	return func(msg Message) bool {
		var p StatusPayload
		return json.Unmarshal(msg.Payload, &p) == nil && p.Event == kind
	}
}

// streamFrames sends face every few milliseconds until the returned stop
// function is called.
func streamFrames(conn *websocket.Conn, face *landmarks.FaceLandmarks) (stop func()) {
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var seq uint64
		for {
			select {
			case <-quit:
				return
			case <-time.After(5 * time.Millisecond):
			}
			seq++
			msg, _ := newMessage(MsgFrame, "", detector.Frame{Sequence: seq, Width: 640, Height: 480, Landmarks: face})
			if conn.WriteJSON(msg) != nil {
				return
			}
		}
	}()
	return func() {
		close(quit)
		wg.Wait()
	}
}

func lookingAway() *landmarks.FaceLandmarks {
	p := landmarks.DefaultFaceParams()
	p.NoseOffset = 30
	return landmarks.Synthetic(p)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	sendMsg(t, conn, MsgHello, HelloPayload{VideoID: "intro-101"})
	st := decodeStatus(t, readUntil(t, conn, MsgStatus, nil))
	assert.Equal(t, gatekeeper.Locked, st.Status.State)
	assert.Equal(t, "intro-101", st.Status.VideoID)
	require.Len(t, env.engine.Sessions(), 1)

	// play before the camera is on is reverted
	sendMsg(t, conn, MsgPlay, nil)
	readUntil(t, conn, MsgPause, nil)
	st = decodeStatus(t, readUntil(t, conn, MsgStatus, eventIs(gatekeeper.EventPlayIntercepted)))
	assert.True(t, st.Status.CameraPromptRequested)

	sendMsg(t, conn, MsgEnableCamera, nil)
	readUntil(t, conn, MsgRequestCamera, nil)
	sendMsg(t, conn, MsgCameraReady, nil)
	st = decodeStatus(t, readUntil(t, conn, MsgStatus, statusIn(gatekeeper.Attentive)))
	assert.True(t, st.Status.CameraActive)

	stop := streamFrames(conn, lookingAway())
	readUntil(t, conn, MsgPause, nil)
	st = decodeStatus(t, readUntil(t, conn, MsgStatus, eventIs(gatekeeper.EventWarning)))
	stop()
	assert.Equal(t, gatekeeper.Warning, st.Status.State)
	assert.True(t, st.Status.ShowWarning)
	assert.Equal(t, 1, st.Status.AlertCount)

	stop = streamFrames(conn, landmarks.Frontal())
	readUntil(t, conn, MsgPlay, nil)
	st = decodeStatus(t, readUntil(t, conn, MsgStatus, eventIs(gatekeeper.EventWarningCleared)))
	stop()
	assert.Equal(t, gatekeeper.Attentive, st.Status.State)

	conn.Close()
	assert.Eventually(t, func() bool {
		return len(env.engine.Sessions()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCameraDenied(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	sendMsg(t, conn, MsgHello, HelloPayload{VideoID: "intro-101"})
	sendMsg(t, conn, MsgEnableCamera, nil)
	readUntil(t, conn, MsgRequestCamera, nil)
	sendMsg(t, conn, MsgCameraError, CameraErrorPayload{Message: "NotAllowedError"})

	st := decodeStatus(t, readUntil(t, conn, MsgStatus, eventIs(gatekeeper.EventCameraError)))
	assert.Equal(t, gatekeeper.Locked, st.Status.State)
	assert.Contains(t, st.Status.CameraError, "NotAllowedError")
	assert.False(t, st.Status.CameraActive)
}

func TestBlockRestoredOnHello(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.blocks.Save(context.Background(),
		block.NewRecord("intro-101", "eyes closed", time.Now(), 5*time.Minute)))

	conn := env.dial(t)
	sendMsg(t, conn, MsgHello, HelloPayload{VideoID: "intro-101"})
	readUntil(t, conn, MsgPause, nil)
	st := decodeStatus(t, readUntil(t, conn, MsgStatus, nil))
	assert.Equal(t, gatekeeper.Blocked, st.Status.State)
	assert.Equal(t, "eyes closed", st.Status.BlockReason)
	assert.Positive(t, st.Status.BlockRemainingMS)
}

func TestProtocolErrors(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	errorMessage := func() string {
		var p ErrorPayload
		require.NoError(t, json.Unmarshal(readUntil(t, conn, MsgError, nil).Payload, &p))
		return p.Message
	}

	sendMsg(t, conn, MsgPing, nil)
	readUntil(t, conn, MsgPong, nil)

	sendMsg(t, conn, MsgEnableCamera, nil)
	assert.Contains(t, errorMessage(), "HELLO")

	sendMsg(t, conn, MsgHello, HelloPayload{})
	assert.Contains(t, errorMessage(), "video_id")

	sendMsg(t, conn, "REWIND", nil)
	assert.Contains(t, errorMessage(), "REWIND")

	sendMsg(t, conn, MsgHello, HelloPayload{VideoID: "a"})
	sendMsg(t, conn, MsgHello, HelloPayload{VideoID: "b"})
	assert.Contains(t, errorMessage(), "already started")
}

func TestHTTPAPI(t *testing.T) {
	env := newTestEnv(t)

	get := func(path string) (int, map[string]interface{}) {
		resp, err := http.Get(env.ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	code, body := get("/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["detector_ready"])

	code, body = get("/api/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "metrics")

	code, _ = get("/api/blocks/intro-101")
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, env.blocks.Save(context.Background(),
		block.NewRecord("intro-101", "mouth open", time.Now(), 5*time.Minute)))
	code, body = get("/api/blocks/intro-101")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "mouth open", body["reason"])

	resp, err := http.Get(env.ts.URL + "/api/blocks")
	require.NoError(t, err)
	defer resp.Body.Close()
	var records []block.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "intro-101", records[0].VideoID)

	resp, err = http.Post(env.ts.URL+"/api/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"No list", nil, "https://evil.example", true},
		{"Listed", []string{"https://learn.example"}, "https://learn.example", true},
		{"Not listed", []string{"https://learn.example"}, "https://evil.example", false},
		{"Wildcard", []string{"*"}, "https://any.example", true},
		{"No origin header", []string{"https://learn.example"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{cfg: Config{AllowedOrigins: tt.allowed}}
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(r))
		})
	}
}

func TestFrameInbox(t *testing.T) {
	b := newFrameInbox()
	ctx := context.Background()

	accepted, _ := b.Put(detector.Frame{Sequence: 1})
	assert.False(t, accepted, "closed inbox drops frames")

	b.setOpen(true)
	accepted, replaced := b.Put(detector.Frame{Sequence: 2})
	assert.True(t, accepted)
	assert.False(t, replaced)
	_, replaced = b.Put(detector.Frame{Sequence: 3})
	assert.True(t, replaced)

	f, err := b.Take(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Sequence)

	_, err = b.Take(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, errNoFrame)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Put(detector.Frame{Sequence: 4})
	}()
	f, err = b.Take(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), f.Sequence)

	b.Put(detector.Frame{Sequence: 5})
	b.setOpen(false)
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = b.Take(cctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
