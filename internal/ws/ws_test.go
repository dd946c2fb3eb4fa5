package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"karaoke/internal/events"
	"karaoke/internal/logger"
	"karaoke/internal/model"
	"karaoke/internal/storage"
)

func init() {
	logger.InitDiscard()
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func setupHub(t *testing.T) (*Hub, *storage.JobStore, *events.Bus, *httptest.Server) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "karaoke.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus()
	store := storage.NewJobStore(db, bus)
	hub := NewHub(store, bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/jobs", hub.ServeJobs)
	mux.HandleFunc("/ws/performance", hub.ServePerformance)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return hub, store, bus, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// expectSilence asserts no frame arrives within the window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var f frame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("expected no frame, got %s", f.Event)
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data map[string]any) {
	t.Helper()

	if err := conn.WriteJSON(Message{Event: event, Data: data}); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

func join(t *testing.T, conn *websocket.Conn) model.PerformanceState {
	t.Helper()

	send(t, conn, "join_performance", nil)
	f := readFrame(t, conn)
	if f.Event != events.PerformanceState {
		t.Fatalf("join reply = %s, want performance_state", f.Event)
	}
	var state model.PerformanceState
	if err := json.Unmarshal(f.Data, &state); err != nil {
		t.Fatalf("bad state payload: %v", err)
	}
	return state
}

// =============================================================================
// Performance room
// =============================================================================

func TestPerformance_ControlBroadcastExcludesSender(t *testing.T) {
	_, _, bus, srv := setupHub(t)

	// Control changes travel over the bus; any subscriber sees them.
	busEvents := make(chan events.PlayerEvent, 8)
	bus.SubscribePlayer(func(e events.PlayerEvent) {
		busEvents <- e
	})

	clientA := dial(t, srv, "/ws/performance")
	clientB := dial(t, srv, "/ws/performance")
	join(t, clientA)
	join(t, clientB)

	send(t, clientA, "update_performance_control", map[string]any{
		"control": "vocal_volume",
		"value":   0.3,
	})

	f := readFrame(t, clientB)
	if f.Event != events.ControlUpdated {
		t.Fatalf("client B got %s, want control_updated", f.Event)
	}
	var payload struct {
		Control string  `json:"control"`
		Value   float64 `json:"value"`
	}
	json.Unmarshal(f.Data, &payload)
	if payload.Control != "vocal_volume" || payload.Value != 0.3 {
		t.Errorf("payload = %+v", payload)
	}

	// The sender must not hear its own control update.
	expectSilence(t, clientA)

	select {
	case e := <-busEvents:
		if e.Kind != events.PlayerKindControlUpdated || e.SenderID == "" {
			t.Errorf("bus saw %+v, want control_updated with a sender", e)
		}
	default:
		t.Error("control update never reached the bus")
	}

	// A later joiner sees the mutated state.
	clientC := dial(t, srv, "/ws/performance")
	state := join(t, clientC)
	if state.VocalVolume != 0.3 {
		t.Errorf("late joiner vocal_volume = %v, want 0.3", state.VocalVolume)
	}
}

func TestPerformance_PlaybackIncludesSender(t *testing.T) {
	_, _, _, srv := setupHub(t)

	clientA := dial(t, srv, "/ws/performance")
	clientB := dial(t, srv, "/ws/performance")
	join(t, clientA)
	join(t, clientB)

	send(t, clientA, "playback_play", nil)

	for name, conn := range map[string]*websocket.Conn{"A": clientA, "B": clientB} {
		cmd := readFrame(t, conn)
		if cmd.Event != events.PlaybackPlay {
			t.Fatalf("client %s first frame = %s, want playback_play", name, cmd.Event)
		}
		stateFrame := readFrame(t, conn)
		if stateFrame.Event != events.PerformanceState {
			t.Fatalf("client %s second frame = %s, want performance_state", name, stateFrame.Event)
		}
		var state model.PerformanceState
		json.Unmarshal(stateFrame.Data, &state)
		if !state.IsPlaying {
			t.Errorf("client %s state.is_playing = false after play", name)
		}
	}
}

func TestPerformance_PlayerStatePulseIsNotRebroadcast(t *testing.T) {
	_, _, _, srv := setupHub(t)

	source := dial(t, srv, "/ws/performance")
	viewer := dial(t, srv, "/ws/performance")
	join(t, source)
	join(t, viewer)

	send(t, source, "update_player_state", map[string]any{
		"isPlaying":   true,
		"currentTime": 12.5,
		"duration":    213.0,
	})

	// The source gets the merged state back.
	f := readFrame(t, source)
	if f.Event != events.PerformanceState {
		t.Fatalf("source got %s, want performance_state", f.Event)
	}
	var state model.PerformanceState
	json.Unmarshal(f.Data, &state)
	if state.CurrentTime != 12.5 || state.Duration != 213.0 || !state.IsPlaying {
		t.Errorf("state = %+v", state)
	}

	// Sync pulses are not control changes; the room stays quiet.
	expectSilence(t, viewer)
}

func TestPerformance_Reset(t *testing.T) {
	_, _, _, srv := setupHub(t)

	clientA := dial(t, srv, "/ws/performance")
	clientB := dial(t, srv, "/ws/performance")
	join(t, clientA)
	join(t, clientB)

	send(t, clientA, "update_player_state", map[string]any{"currentTime": 55.0, "isPlaying": true})
	readFrame(t, clientA) // merged state back to sender

	send(t, clientA, "reset_player_state", nil)

	f := readFrame(t, clientB)
	if f.Event != events.ResetPlayerState {
		t.Fatalf("client B got %s, want reset_player_state", f.Event)
	}

	clientC := dial(t, srv, "/ws/performance")
	state := join(t, clientC)
	if state.CurrentTime != 0 || state.IsPlaying {
		t.Errorf("state after reset = %+v", state)
	}
}

func TestPerformance_UnknownControlIgnored(t *testing.T) {
	_, _, _, srv := setupHub(t)

	clientA := dial(t, srv, "/ws/performance")
	clientB := dial(t, srv, "/ws/performance")
	join(t, clientA)
	join(t, clientB)

	send(t, clientA, "update_performance_control", map[string]any{
		"control": "bass_boost",
		"value":   11,
	})

	// No broadcast, no crash, defaults intact for the next joiner.
	expectSilence(t, clientB)

	clientC := dial(t, srv, "/ws/performance")
	state := join(t, clientC)
	if state.InstrumentalVolume != 1 || state.LyricsSize != "medium" {
		t.Errorf("state mutated by unknown control: %+v", state)
	}
}

// =============================================================================
// Jobs room
// =============================================================================

func TestJobs_SnapshotOnSubscribe(t *testing.T) {
	_, store, _, srv := setupHub(t)

	store.Create(&model.Job{ID: "j1", SongID: "s1", Status: model.StatusPending})
	done := &model.Job{ID: "j2", SongID: "s2", Status: model.StatusCompleted, Progress: 100}
	store.Create(done)
	store.Dismiss("j2")

	conn := dial(t, srv, "/ws/jobs")

	f := readFrame(t, conn)
	if f.Event != events.JobsList {
		t.Fatalf("first frame = %s, want jobs_list", f.Event)
	}
	var payload struct {
		Jobs []model.Job `json:"jobs"`
	}
	json.Unmarshal(f.Data, &payload)
	if len(payload.Jobs) != 1 || payload.Jobs[0].ID != "j1" {
		t.Errorf("snapshot = %+v, want only the non-dismissed job", payload.Jobs)
	}
}

func TestJobs_BusEventsReachSubscribersInOrder(t *testing.T) {
	_, store, _, srv := setupHub(t)

	conn := dial(t, srv, "/ws/jobs")
	readFrame(t, conn) // drain the snapshot

	job := &model.Job{ID: "j1", SongID: "s1", Status: model.StatusPending}
	store.Create(job)

	job.Status = model.StatusProcessing
	job.Progress = 40
	store.Update(job)

	job.Status = model.StatusFinalizing
	job.Progress = 90
	store.Update(job)

	job.Status = model.StatusCompleted
	job.Progress = 100
	store.Update(job)

	want := []string{events.JobCreated, events.JobUpdated, events.JobUpdated, events.JobCompleted}
	for _, wantEvent := range want {
		f := readFrame(t, conn)
		if f.Event != wantEvent {
			t.Fatalf("got %s, want %s", f.Event, wantEvent)
		}
	}
}

func TestJobs_FailureAndCancelEvents(t *testing.T) {
	_, store, _, srv := setupHub(t)

	conn := dial(t, srv, "/ws/jobs")
	readFrame(t, conn)

	failed := &model.Job{ID: "j1", SongID: "s1", Status: model.StatusPending}
	store.Create(failed)
	readFrame(t, conn)

	failed.Status = model.StatusFailed
	failed.Error = "demucs exploded"
	store.Update(failed)

	f := readFrame(t, conn)
	if f.Event != events.JobFailed {
		t.Fatalf("got %s, want job_failed", f.Event)
	}
	var payload model.Job
	json.Unmarshal(f.Data, &payload)
	if payload.Error != "demucs exploded" {
		t.Errorf("error payload = %q", payload.Error)
	}
}
