package enroll

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxImageBytes bounds an uploaded enrollment still.
const maxImageBytes = 8 << 20

// API exposes the operator-facing enrollment operations over HTTP:
//
//	POST   /api/identities       enroll a face (JPEG body, ?name= label)
//	GET    /api/identities       list enrolled identities
//	DELETE /api/identities/{id}  remove an identity
//
// After every mutation the full trusted set is re-pushed to the sink so the
// verifier picks up the change on its next frame.
type API struct {
	enroller *Enroller
	sink     TrustedSink
}

// NewAPI creates the enrollment HTTP API. Mutations refresh sink.
func NewAPI(enroller *Enroller, sink TrustedSink) *API {
	return &API{enroller: enroller, sink: sink}
}

// Register adds the enrollment routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/identities", a.handleEnroll)
	mux.HandleFunc("GET /api/identities", a.handleList)
	mux.HandleFunc("DELETE /api/identities/{id}", a.handleRemove)
}

// identityJSON is the wire form of an enrolled face. The encoding itself is
// never exposed.
type identityJSON struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func (a *API) handleEnroll(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	image, err := io.ReadAll(io.LimitReader(r.Body, maxImageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read image body failed")
		return
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, "image body must not be empty")
		return
	}

	face, err := a.enroller.Enroll(r.Context(), name, image)
	switch {
	case errors.Is(err, ErrNoDetector):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, ErrNoFace), errors.Is(err, ErrMultipleFaces):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		slog.Error("enrollment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "enrollment failed")
		return
	}

	a.refresh(r)
	writeJSON(w, http.StatusCreated, identityJSON{
		ID:         face.ID,
		Name:       face.Name,
		EnrolledAt: face.EnrolledAt,
	})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	faces, err := a.enroller.List(r.Context())
	if err != nil {
		slog.Error("listing identities failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing identities failed")
		return
	}
	out := make([]identityJSON, len(faces))
	for i, f := range faces {
		out[i] = identityJSON{ID: f.ID, Name: f.Name, EnrolledAt: f.EnrolledAt}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.enroller.Remove(r.Context(), id); err != nil {
		slog.Error("removing identity failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "removing identity failed")
		return
	}
	a.refresh(r)
	w.WriteHeader(http.StatusNoContent)
}

// refresh pushes the updated trusted set to the sink. A failure here leaves
// the verifier on the previous set; it is logged, not surfaced to the caller,
// because the mutation itself already succeeded.
func (a *API) refresh(r *http.Request) {
	if a.sink == nil {
		return
	}
	n, err := a.enroller.Refresh(r.Context(), a.sink)
	if err != nil {
		slog.Error("refreshing trusted set failed", "error", err)
		return
	}
	slog.Info("trusted set refreshed", "identities", n)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorJSON{Error: msg})
}
