package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/classmeet/internal/app"
	"github.com/dkeye/classmeet/internal/app/orch"
	"github.com/dkeye/classmeet/internal/config"
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/core/coretest"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gin.Engine, *orch.Orchestrator) {
	t.Helper()
	reg := app.NewRegistry()
	rooms := app.NewRoomManager(coretest.NewTransport(), domain.DefaultSettings())
	o := &orch.Orchestrator{
		Registry:  reg,
		Rooms:     rooms,
		Admission: app.NewAdmissionController(),
		Relay:     app.NewRelay(reg, rooms, app.SimplePolicy{}),
	}
	cfg := &config.Config{Mode: "test", Secret: "test-secret", StaticPath: t.TempDir()}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return SetupRouter(ctx, cfg, o), o
}

func get(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := setup(t)

	w := get(t, r, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["rooms"])
}

func TestRoomsEndpoints(t *testing.T) {
	r, o := setup(t)

	w := get(t, r, "/api/rooms")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	sid := core.SessionID("s1")
	o.OnConnect(sid, coretest.NewConn(), "")
	require.NoError(t, o.Join(context.Background(), sid, "math", "Ann", true))

	w = get(t, r, "/api/rooms")
	require.Equal(t, http.StatusOK, w.Code)
	var list []core.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, domain.RoomID("math"), list[0].ID)
	assert.Equal(t, 1, list[0].ParticipantCount)

	w = get(t, r, "/api/rooms/math")
	require.Equal(t, http.StatusOK, w.Code)
	var info core.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, domain.ParticipantID("s1"), info.Creator)

	w = get(t, r, "/api/rooms/history")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestICEServers(t *testing.T) {
	r, _ := setup(t)

	w := get(t, r, "/api/ice-servers")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ICEServers []core.ICEServer `json:"iceServers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, coretest.ICEServers, body.ICEServers)
}

func TestClientTokenCookie(t *testing.T) {
	r, _ := setup(t)

	w := get(t, r, "/api/health")
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, sessionName, cookies[0].Name)

	// a returning client keeps its session and gets no new cookie
	w2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.AddCookie(cookies[0])
	r.ServeHTTP(w2, req)
	assert.Empty(t, w2.Result().Cookies())
}

func TestHealthReportsMedia(t *testing.T) {
	r, o := setup(t)
	o.OnConnect("s1", coretest.NewConn(), "")
	require.NoError(t, o.Join(context.Background(), "s1", "math", "Ann", true))

	w := get(t, r, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rooms       int             `json:"rooms"`
		Connections int             `json:"connections"`
		Media       core.MediaStats `json:"media"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Rooms)
	assert.Equal(t, 1, body.Connections)
	assert.Equal(t, core.MediaStats{Routers: 1, Handles: 1}, body.Media)
}
