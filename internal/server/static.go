package server

import (
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
)

// redirectStub is served for the pages this server deliberately shadows:
// only the streaming UI is available here.
const redirectStub = `
<!doctype html><html><head>
<title>Streaming speech recognition</title><body>
<h2>Only /streaming_record.html is available for the streaming server.<h2>
<br/>
<br/>
Go back to <a href="/streaming_record.html">/streaming_record.html</a>
</body></head></html>
`

const notFoundBody = "404 Not Found"

// shadowedPages belong to the offline UI and are replaced with redirectStub.
var shadowedPages = map[string]bool{
	"/upload.html":         true,
	"/offline_record.html": true,
}

// staticHandler serves files below the configured document root for plain
// HTTP GETs that are not websocket upgrades.
type staticHandler struct {
	docRoot string
	log     zerolog.Logger
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if name == "/" {
		name = "/index.html"
	}

	if shadowedPages[name] {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(redirectStub))
		return
	}

	// path.Clean on a rooted path strips any "..", confining the lookup to
	// the document root.
	file := filepath.Join(h.docRoot, filepath.FromSlash(path.Clean("/"+name)))
	body, err := os.ReadFile(file)
	if err != nil {
		h.log.Debug().Str("path", name).Msg("static miss")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(notFoundBody))
		return
	}
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
