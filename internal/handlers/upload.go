package handlers

import (
	"context"
	"net/http"
	"time"
)

const uploadTimeout = 30 * time.Second

// Upload accepts a multipart image and stores it through the blob
// store, returning the public URL the message can reference.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), uploadTimeout)
	defer cancel()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	url, err := h.blobs.Put(ctx, header.Filename, file)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", header.Filename).Msg("upload failed")
		h.Error(w, http.StatusBadRequest, "upload rejected")
		return
	}

	h.JSON(w, http.StatusCreated, map[string]string{
		"url":  url,
		"name": header.Filename,
	})
}
