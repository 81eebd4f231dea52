package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ArchiveHandler lists archived event objects in cold storage.
type ArchiveHandler struct {
	reader domain.BlobReader
	prefix string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler listing objects under prefix.
func NewArchiveHandler(reader domain.BlobReader, prefix string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, prefix: prefix, logger: logHandler(logger, "archive")}
}

type blobView struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchives returns archived objects, optionally narrowed to one UTC day.
// GET /api/archives?day=YYYY-MM-DD
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := h.prefix
	if day := r.URL.Query().Get("day"); day != "" {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		prefix = strings.TrimSuffix(prefix, "/") + "/" + day + "/"
	}

	blobs, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]blobView, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, blobView{Path: b.Path, Size: b.Size, LastModified: b.LastModified})
	}
	writeJSON(w, http.StatusOK, out)
}
