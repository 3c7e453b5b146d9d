package environment

import (
	"embed"
	"net/http"
)

// The bundled player page fills the viewport with a single <video> element
// and reads src/scrubbing from its query string.
//
//go:embed player/index.html
var playerFS embed.FS

func playerHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		page, err := playerFS.ReadFile("player/index.html")
		if err != nil {
			http.Error(w, "player page missing", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})
}
