package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/embedbridge/internal/runtime/jsoncodec"
	"github.com/drblury/embedbridge/internal/runtime/platformview"
)

// ChannelsResponse is served at /api/channels.
type ChannelsResponse struct {
	Transport     string                  `json:"transport"`
	OrderedFrames bool                    `json:"ordered_frames"`
	PendingCalls  int                     `json:"pending_calls"`
	Channels      map[string]ChannelStats `json:"channels"`
}

// StartWebUIServer registers the introspection API when the web UI is
// enabled. Start calls it.
func (b *Bridge) StartWebUIServer() {
	if !b.Conf.WebUIEnabled {
		return
	}
	b.RegisterHTTPHandler(b.Conf.WebUIPort, "/api/channels", http.HandlerFunc(b.handleGetChannels))
	b.RegisterHTTPHandler(b.Conf.WebUIPort, "/api/views", http.HandlerFunc(b.handleGetViews))
}

func (b *Bridge) handleGetChannels(w http.ResponseWriter, r *http.Request) {
	if !b.prepareJSON(w, r) {
		return
	}
	b.writeJSON(w, ChannelsResponse{
		Transport:     b.caps.Name,
		OrderedFrames: b.caps.PreservesFrameOrder(),
		PendingCalls:  b.messages.Pending(),
		Channels:      b.metrics.ChannelStats(b.messages.Handlers()),
	})
}

func (b *Bridge) handleGetViews(w http.ResponseWriter, r *http.Request) {
	if !b.prepareJSON(w, r) {
		return
	}
	views := []platformview.ViewInfo{}
	if b.views != nil {
		views = b.views.Views()
	}
	b.writeJSON(w, views)
}

// prepareJSON sets the response headers and answers preflight requests.
// It reports whether the caller should write a body.
func (b *Bridge) prepareJSON(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	if len(b.Conf.WebUICORSAllowedOrigins) > 0 {
		if allowed := b.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return false
	case http.MethodGet, http.MethodHead:
		return true
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return false
	}
}

func (b *Bridge) writeJSON(w http.ResponseWriter, v any) {
	if err := jsoncodec.Encode(w, v); err != nil {
		b.Logger.Error("Failed to encode introspection response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (b *Bridge) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range b.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
