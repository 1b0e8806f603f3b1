package handler

import (
	"bytes"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mfgconsole/internal/documents"
	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/resource"
)

// Document は出荷書類をダウンロードさせる。
// 取得が完了してから応答するため、途中で失敗した場合もエラー画面を返せる。
// GET /logistics/{id}/documents/{docID}
func (c *Console) Document(w http.ResponseWriter, r *http.Request) {
	if c.documents == nil {
		c.NotFound(w, r)
		return
	}
	id := chi.URLParam(r, "id")
	docID := chi.URLParam(r, "docID")

	docs, err := c.resources.DispatchDocuments(r.Context(), id)
	if err != nil {
		c.handleError(w, r, err)
		return
	}
	var doc *model.DispatchDocument
	for i := range docs {
		if string(docs[i].ID) == docID {
			doc = &docs[i]
			break
		}
	}
	if doc == nil {
		c.handleError(w, r, model.NewStatusError(http.StatusNotFound, "Document not found.", nil))
		return
	}

	var buf bytes.Buffer
	n, err := c.documents.Download(r.Context(), *doc, &buf)
	if c.recorder != nil {
		c.recorder.RecordDocumentDownload(err == nil, n)
	}
	if err != nil {
		c.logger.Warn("document download failed",
			slog.String("dispatch_id", id),
			slog.String("document_id", docID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, documents.ErrTooLarge) {
			err = model.NewStatusError(http.StatusBadGateway, "The document is too large to download.", nil)
		}
		c.redirectWithFlash(w, r, navigationDetail(id), "error", model.MessageOf(err, "Failed to download the document."))
		return
	}

	name := documents.FileName(*doc)
	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// navigationDetail は出荷の詳細画面のパスを返す。
func navigationDetail(id string) string {
	return sectionPath(resource.Dispatches) + "/" + id
}
