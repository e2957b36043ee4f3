package handlers

import (
	"net/http"
	"strconv"

	"github.com/DavidJBarnes/wanly-api/internal/storage"
)

// FetchFile streams a stored artifact named by the `path` query parameter.
func (a *App) FetchFile(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("path")
	data, err := a.Queue.FetchObject(r.Context(), ref)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", storage.ContentType(ref))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
