// Package tracking serves the signed click redirects and open pixels that
// outgoing campaign messages link to.
package tracking

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-sender/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// LinkVerifier checks signed tracking tokens.
type LinkVerifier interface {
	VerifyClick(encoded, signature string) (campaign, list, subscriber, target string, err error)
	VerifyOpen(encoded, signature string) (campaign, list, subscriber string, err error)
}

type Handler struct {
	links LinkVerifier
	pub   EventPublisher
	now   func() time.Time
}

func NewHandler(links LinkVerifier, pub EventPublisher) *Handler {
	return &Handler{links: links, pub: pub, now: time.Now}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/links/open/{data}/{sig}", h.HandleOpen)
	r.Get("/links/click/{data}/{sig}", h.HandleClick)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen always serves the pixel; invalid tokens are not recorded.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	campaign, list, sub, err := h.links.VerifyOpen(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err == nil {
		h.pub.Publish(r.Context(), TrackingEvent{
			EventType:      EventOpen,
			CampaignID:     campaign,
			ListID:         list,
			SubscriptionID: sub,
			IPAddress:      realIP(r),
			UserAgent:      r.UserAgent(),
			Timestamp:      h.now().UTC(),
		})
	} else {
		logger.Debug("invalid open token", "error", err)
	}
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	campaign, list, sub, target, err := h.links.VerifyClick(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.pub.Publish(r.Context(), TrackingEvent{
		EventType:      EventClick,
		CampaignID:     campaign,
		ListID:         list,
		SubscriptionID: sub,
		LinkURL:        target,
		IPAddress:      realIP(r),
		UserAgent:      r.UserAgent(),
		Timestamp:      h.now().UTC(),
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
