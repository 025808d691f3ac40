package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/pipeline"
)

// Recognizer is the recognition pipeline as seen by the API.
type Recognizer interface {
	Process(ctx context.Context, image []byte, now time.Time) ([]pipeline.FaceResult, error)
	Enroll(ctx context.Context, identity, displayName string, image []byte, now time.Time) (database.FaceTemplate, error)
}

// RecognizeHandler handles frame submission and enrollment.
type RecognizeHandler struct {
	pipeline Recognizer
	now      Clock
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(p Recognizer, now Clock) *RecognizeHandler {
	if now == nil {
		now = time.Now
	}
	return &RecognizeHandler{pipeline: p, now: now}
}

// RecognizeResponse lists one outcome per detected face.
type RecognizeResponse struct {
	ProcessedAt time.Time             `json:"processed_at"`
	Count       int                   `json:"count"`
	Faces       []pipeline.FaceResult `json:"faces"`
}

// Recognize processes one frame.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	image, err := readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := h.now()
	faces, err := h.pipeline.Process(r.Context(), image, now)
	if err != nil {
		weblog().Error().Err(err).Msg("recognize failed")
		respondError(w, http.StatusBadGateway, "face extraction failed")
		return
	}
	respondJSON(w, http.StatusOK, RecognizeResponse{ProcessedAt: now, Count: len(faces), Faces: faces})
}

// EnrollResponse describes the stored template without its embedding.
type EnrollResponse struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	Dimension   int       `json:"dimension"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

// Enroll registers the single face of an uploaded image.
func (h *RecognizeHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	image, err := readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	identity := r.FormValue("identity")
	displayName := r.FormValue("display_name")

	t, err := h.pipeline.Enroll(r.Context(), identity, displayName, image, h.now())
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrNoFace), errors.Is(err, pipeline.ErrMultipleFaces):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, pipeline.ErrDuplicateName):
		respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, database.ErrInvalidTemplate):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, pipeline.ErrEnrollmentDisabled):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		weblog().Error().Err(err).Str("identity", sanitizeForLog(identity)).Msg("enroll failed")
		respondError(w, http.StatusInternalServerError, "enrollment failed")
		return
	}

	respondJSON(w, http.StatusCreated, EnrollResponse{
		Identity:    t.Identity,
		DisplayName: t.DisplayName,
		Dimension:   len(t.Embedding),
		EnrolledAt:  t.UpdatedAt,
	})
}
