package handlers

import (
	"errors"
	"fmt"
	"html"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shoutmap/internal/adapter/storage"
	"shoutmap/internal/domain/megaphone"
	"shoutmap/internal/domain/shout"
)

// PreviewHandler renders shareable artifacts: map-pin SVGs and Open Graph
// pages. These are stateless edge handlers, safe to cache.
type PreviewHandler struct {
	megaphones megaphone.Store
	shouts     shout.Store
	appBaseURL string
}

// NewPreviewHandler creates a new preview handler. appBaseURL is where human
// visitors of share links get redirected.
func NewPreviewHandler(megaphones megaphone.Store, shouts shout.Store, appBaseURL string) *PreviewHandler {
	return &PreviewHandler{
		megaphones: megaphones,
		shouts:     shouts,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
	}
}

// pin colors per artifact kind.
const (
	megaphonePinColor = "#e8590c"
	shoutPinColor     = "#1971c2"
)

// MegaphonePin renders a map-pin SVG for a megaphone
func (h *PreviewHandler) MegaphonePin(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadMegaphone(w, r)
	if !ok {
		return
	}

	writePinSVG(w, m.Title, megaphonePinColor)
}

// ShoutPin renders a map-pin SVG for a shout
func (h *PreviewHandler) ShoutPin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing shout ID", nil)
		return
	}

	sh, err := h.shouts.GetShout(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Shout not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get shout", err)
		}
		return
	}
	if sh.Expired(time.Now()) {
		respondWithError(w, http.StatusGone, "Shout has expired", nil)
		return
	}

	writePinSVG(w, sh.Content, shoutPinColor)
}

var shareTemplate = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta property="og:title" content="{{.Title}}">
<meta property="og:description" content="{{.Description}}">
<meta property="og:image" content="{{.ImageURL}}">
<meta property="og:type" content="website">
<meta property="og:url" content="{{.PageURL}}">
<meta name="twitter:card" content="summary">
</head>
<body>{{.Title}}</body>
</html>
`))

// ShareMegaphone serves a megaphone share link. Link-preview crawlers get an
// Open Graph page; everyone else is redirected into the app.
func (h *PreviewHandler) ShareMegaphone(w http.ResponseWriter, r *http.Request) {
	m, ok := h.loadMegaphone(w, r)
	if !ok {
		return
	}

	if !isPreviewBot(r.UserAgent()) {
		http.Redirect(w, r, fmt.Sprintf("%s/m/%s", h.appBaseURL, m.ID), http.StatusFound)
		return
	}

	data := struct {
		Title       string
		Description string
		ImageURL    string
		PageURL     string
	}{
		Title:       m.Title,
		Description: fmt.Sprintf("A megaphone near you, starting %s", m.StartsAt.Format("Jan 2 15:04")),
		ImageURL:    fmt.Sprintf("%s/preview/megaphones/%s.svg", h.appBaseURL, m.ID),
		PageURL:     fmt.Sprintf("%s/share/megaphones/%s", h.appBaseURL, m.ID),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := shareTemplate.Execute(w, data); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to render share page", err)
	}
}

func (h *PreviewHandler) loadMegaphone(w http.ResponseWriter, r *http.Request) (*megaphone.Megaphone, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing megaphone ID", nil)
		return nil, false
	}

	m, err := h.megaphones.GetMegaphone(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Megaphone not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get megaphone", err)
		}
		return nil, false
	}
	return m, true
}

// writePinSVG emits a teardrop map pin with a truncated label.
func writePinSVG(w http.ResponseWriter, label, color string) {
	// Truncate on rune boundaries so multi-byte labels stay valid UTF-8.
	const maxLabel = 24
	if runes := []rune(label); len(runes) > maxLabel {
		label = string(runes[:maxLabel-1]) + "…"
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=300")

	fmt.Fprintf(w, `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="80" viewBox="0 0 200 80">
<path d="M24 8 C13 8 6 16 6 26 C6 38 24 56 24 56 C24 56 42 38 42 26 C42 16 35 8 24 8 Z" fill="%s"/>
<circle cx="24" cy="26" r="8" fill="#fff"/>
<text x="52" y="36" font-family="sans-serif" font-size="14" fill="#333">%s</text>
</svg>
`, color, html.EscapeString(label))
}

// isPreviewBot reports whether a user agent looks like a link-preview
// crawler rather than a person.
func isPreviewBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{
		"bot", "crawler", "spider", "facebookexternalhit",
		"slackbot", "whatsapp", "telegram", "discordapp", "embedly",
	} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
