package ws

import (
	"karaoke/internal/events"
	"karaoke/internal/logger"
)

// Inbound performance events.
const (
	evJoinPerformance   = "join_performance"
	evLeavePerformance  = "leave_performance"
	evUpdateControl     = "update_performance_control"
	evUpdatePlayerState = "update_player_state"
	evPlaybackPlay      = "playback_play"
	evPlaybackPause     = "playback_pause"
	evResetPlayerState  = "reset_player_state"
)

// handlePerformanceMessage dispatches one inbound frame from a
// performance-room client. All state mutations run under perfMu, so the
// room has a single writer at a time.
func (h *Hub) handlePerformanceMessage(c *Client, msg Message) {
	switch msg.Event {
	case evJoinPerformance:
		h.joinPerformance(c)
	case evLeavePerformance:
		h.leavePerformance(c)
	case evUpdateControl:
		h.updateControl(c, msg.Data)
	case evUpdatePlayerState:
		h.updatePlayerState(c, msg.Data)
	case evPlaybackPlay:
		h.playback(c, true)
	case evPlaybackPause:
		h.playback(c, false)
	case evResetPlayerState:
		h.resetPlayerState(c)
	default:
		logger.Log.Warn().Str("event", msg.Event).Msg("ignored unknown performance event")
	}
}

func (h *Hub) joinPerformance(c *Client) {
	h.perfMu.Lock()
	h.perfClients[c] = true
	state := h.perfState
	h.perfMu.Unlock()

	logger.Log.Info().Str("sessionID", c.id).Msg("client joined global performance controls")
	c.enqueue(outbound{Event: events.PerformanceState, Data: state})
}

func (h *Hub) leavePerformance(c *Client) {
	h.perfMu.Lock()
	delete(h.perfClients, c)
	h.perfMu.Unlock()

	logger.Log.Info().Str("sessionID", c.id).Msg("client left global performance controls")
}

// updateControl validates the control name, mutates the shared state
// and broadcasts the change to everyone except the sender.
func (h *Hub) updateControl(c *Client, data map[string]any) {
	name, _ := data["control"].(string)
	value, hasValue := data["value"]
	if name == "" || !hasValue {
		logger.Log.Error().Interface("data", data).Msg("invalid control update request")
		return
	}

	h.perfMu.Lock()
	ok := h.applyControl(name, value)
	h.perfMu.Unlock()

	if !ok {
		logger.Log.Warn().Str("control", name).Msg("ignored update for unsupported control")
		return
	}

	h.bus.PublishPlayer(events.PlayerEvent{
		Kind:     events.PlayerKindControlUpdated,
		Payload:  map[string]any{"control": name, "value": value},
		SenderID: c.id,
	})

	logger.Log.Info().Str("control", name).Interface("value", value).Msg("performance control updated")
}

// applyControl mutates one named field. Callers hold perfMu.
func (h *Hub) applyControl(name string, value any) bool {
	switch name {
	case "vocal_volume":
		return setFloat(&h.perfState.VocalVolume, value)
	case "instrumental_volume":
		return setFloat(&h.perfState.InstrumentalVolume, value)
	case "lyrics_size":
		s, ok := value.(string)
		if ok {
			h.perfState.LyricsSize = s
		}
		return ok
	case "lyrics_offset":
		return setFloat(&h.perfState.LyricsOffset, value)
	case "current_time":
		return setFloat(&h.perfState.CurrentTime, value)
	case "duration":
		return setFloat(&h.perfState.Duration, value)
	case "is_playing":
		b, ok := value.(bool)
		if ok {
			h.perfState.IsPlaying = b
		}
		return ok
	}
	return false
}

// updatePlayerState patches the fields present in a sync pulse from the
// playing client. These are not rebroadcast as control changes; the
// sender just gets the merged state back.
func (h *Hub) updatePlayerState(c *Client, data map[string]any) {
	h.perfMu.Lock()
	if v, ok := data["isPlaying"].(bool); ok {
		h.perfState.IsPlaying = v
	}
	if v, ok := toFloat(data["currentTime"]); ok {
		h.perfState.CurrentTime = v
	}
	if v, ok := toFloat(data["duration"]); ok {
		h.perfState.Duration = v
	}
	state := h.perfState
	h.perfMu.Unlock()

	c.enqueue(outbound{Event: events.PerformanceState, Data: state})
}

// playback flips is_playing and publishes the explicit command for the
// whole room including the sender, so every client's media element
// reacts the same way, followed by the updated state.
func (h *Hub) playback(c *Client, playing bool) {
	h.perfMu.Lock()
	h.perfState.IsPlaying = playing
	state := h.perfState
	h.perfMu.Unlock()

	kind := events.PlayerKindPause
	if playing {
		kind = events.PlayerKindPlay
	}

	h.bus.PublishPlayer(events.PlayerEvent{Kind: kind, SenderID: c.id})
	h.bus.PublishPlayer(events.PlayerEvent{Kind: events.PlayerKindState, Payload: state, SenderID: c.id})

	logger.Log.Info().Str("sessionID", c.id).Bool("playing", playing).Msg("playback command")
}

func (h *Hub) resetPlayerState(c *Client) {
	h.perfMu.Lock()
	h.perfState.CurrentTime = 0
	h.perfState.IsPlaying = false
	h.perfMu.Unlock()

	h.bus.PublishPlayer(events.PlayerEvent{Kind: events.PlayerKindReset, SenderID: c.id})

	logger.Log.Info().Str("sessionID", c.id).Msg("player state reset")
}

func setFloat(dst *float64, value any) bool {
	f, ok := toFloat(value)
	if ok {
		*dst = f
	}
	return ok
}

// toFloat accepts the numeric types JSON decoding can produce.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
