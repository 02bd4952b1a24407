package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Server struct {
	Dir string
}

// Handler serves the renderer bundle. Paths that do not name a file fall
// back to index.html so client-side routes survive a reload; /api paths are
// never rewritten.
func (s *Server) Handler() http.Handler {
	fs := http.FileServer(http.Dir(s.Dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		if !strings.HasPrefix(r.URL.Path, "/api/") && !s.exists(r.URL.Path) {
			http.ServeFile(w, r, filepath.Join(s.Dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func (s *Server) exists(urlPath string) bool {
	clean := path.Clean("/" + urlPath)
	if clean == "/" {
		return true
	}
	_, err := os.Stat(filepath.Join(s.Dir, filepath.FromSlash(clean)))
	return err == nil
}
