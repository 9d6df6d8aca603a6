package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/storage"
)

// multipartOverhead leaves room for boundaries and part headers around the
// logo itself.
const multipartOverhead = 64 << 10

type LogoUploader interface {
	UploadLogo(ctx context.Context, r io.Reader) (*storage.UploadedLogo, error)
}

type UploadHandler struct {
	logos LogoUploader
}

func NewUploadHandler(logos LogoUploader) *UploadHandler {
	return &UploadHandler{logos: logos}
}

func (h *UploadHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/uploads/logo", h.handleUploadLogo)
}

func (h *UploadHandler) handleUploadLogo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxLogoSize+multipartOverhead)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respondWithError(w, http.StatusBadRequest, storage.ErrLogoTooLarge.Error())
		case errors.Is(err, http.ErrMissingFile):
			respondWithError(w, http.StatusBadRequest, "Missing file")
		default:
			log.Warn().Err(err).Msg("Failed to read logo upload form")
			respondWithError(w, http.StatusBadRequest, "Invalid upload form")
		}
		return
	}
	defer file.Close()

	uploaded, err := h.logos.UploadLogo(r.Context(), file)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upload logo")
		respondWithServiceError(w, err, "Upload error")
		return
	}

	respondWithJSON(w, http.StatusOK, uploaded)
}
