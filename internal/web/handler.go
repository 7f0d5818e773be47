// Package web exposes the exercise and pronunciation services over HTTP.
//
// Routes:
//
//   - GET|POST /api/exercise_set?profile&theme returns an exercise set,
//     generating one when needed.
//   - GET /api/exercise_set/{exerciseSetId} returns a cached set by id.
//   - POST /api/analyze accepts a multipart upload (audio, ref, profile,
//     exerciseId, exerciseSetId) and returns {transcript, feedback}.
//   - GET /api/feedback?profile returns the recent feedback history.
//   - POST /api/feedback accepts a JSON body {exerciseSetId, exerciseId,
//     profile, feedback} and stores the client's feedback on the cached set.
//
// Only malformed requests are answered with a 4xx status. Every downstream
// failure is reported inside a normal 200 response body.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"github.com/MrWong99/dizai/internal/exercise"
	"github.com/MrWong99/dizai/internal/feedback"
	"github.com/MrWong99/dizai/internal/observe"
	"github.com/MrWong99/dizai/internal/pronunciation"
	"github.com/MrWong99/dizai/pkg/provider/stt"
)

const (
	defaultProfile   = "default"
	defaultTheme     = "restaurant"
	defaultMaxUpload = 25 << 20

	// multipartMemory is the part of a multipart body kept in memory; the
	// rest spills to temporary files.
	multipartMemory = 8 << 20

	maxFeedbackBody = 1 << 20
)

// errInvalidProfile rejects profiles that would collide in the cache key.
var errInvalidProfile = errors.New("profile must not contain \"::\"")

// Generator produces exercise sets.
type Generator interface {
	Generate(ctx context.Context, profile, theme string) (exercise.ExerciseSet, error)
}

// SetStore looks up cached exercise sets by id and records client feedback
// against them.
type SetStore interface {
	FindSet(setID string) (exercise.Entry, bool)
	AddResponse(setID, profile, exerciseID string, feedback json.RawMessage) error
}

// Analyzer evaluates pronunciation attempts.
type Analyzer interface {
	Analyze(ctx context.Context, req pronunciation.Request) (*pronunciation.Result, error)
}

// History returns recent feedback records for a profile, newest first.
type History interface {
	Recent(profile string) []feedback.Record
}

// Option configures a [Handler].
type Option func(*Handler)

// WithGenerator enables the exercise set routes.
func WithGenerator(g Generator, sets SetStore) Option {
	return func(h *Handler) {
		h.generator = g
		h.sets = sets
	}
}

// WithAnalyzer enables POST /api/analyze.
func WithAnalyzer(a Analyzer) Option {
	return func(h *Handler) { h.analyzer = a }
}

// WithHistory enables GET /api/feedback.
func WithHistory(hist History) Option {
	return func(h *Handler) { h.history = hist }
}

// WithDefaults sets the profile and theme used when a request omits them.
func WithDefaults(profile, theme string) Option {
	return func(h *Handler) {
		if profile != "" {
			h.defaultProfile = profile
		}
		if theme != "" {
			h.defaultTheme = theme
		}
	}
}

// WithMaxUploadBytes caps the body size accepted by /api/analyze.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithAnalyzeLimit rejects analysis requests beyond perSecond sustained with
// the given burst. A non-positive rate disables limiting.
func WithAnalyzeLimit(perSecond float64, burst int) Option {
	return func(h *Handler) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// Handler serves the DizAí API.
type Handler struct {
	generator Generator
	sets      SetStore
	analyzer  Analyzer
	history   History
	limiter   *rate.Limiter

	defaultProfile string
	defaultTheme   string
	maxUpload      int64
}

// New creates a Handler. Routes whose backing service was not supplied are
// not registered.
func New(opts ...Option) *Handler {
	h := &Handler{
		defaultProfile: defaultProfile,
		defaultTheme:   defaultTheme,
		maxUpload:      defaultMaxUpload,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h.generator != nil {
		mux.HandleFunc("GET /api/exercise_set", h.ExerciseSet)
		mux.HandleFunc("POST /api/exercise_set", h.ExerciseSet)
	}
	if h.sets != nil {
		mux.HandleFunc("GET /api/exercise_set/{exerciseSetId}", h.ExerciseSetByID)
		mux.HandleFunc("POST /api/feedback", h.SubmitFeedback)
	}
	if h.analyzer != nil {
		mux.HandleFunc("POST /api/analyze", h.Analyze)
	}
	if h.history != nil {
		mux.HandleFunc("GET /api/feedback", h.Feedback)
	}
}

// ExerciseSet returns the exercise set for the requested profile and theme.
func (h *Handler) ExerciseSet(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	theme := formValue(r, "theme", h.defaultTheme)

	set, err := h.generator.Generate(r.Context(), profile, theme)
	if err != nil {
		observe.Logger(r.Context()).Error("exercise set request failed",
			"profile", profile, "theme", theme, "err", err)
		set = exercise.EmptySet()
	}
	writeJSON(w, http.StatusOK, set)
}

// setResponse is the body of GET /api/exercise_set/{exerciseSetId}.
type setResponse struct {
	ExerciseSetID string                     `json:"exerciseSetId"`
	Profile       string                     `json:"profile"`
	Exercises     []exercise.Exercise        `json:"exercises"`
	Responses     map[string]json.RawMessage `json:"responses"`
}

// ExerciseSetByID returns a cached set with the feedback submitted for it,
// or 404.
func (h *Handler) ExerciseSetByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("exerciseSetId")
	entry, ok := h.sets.FindSet(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("exercise set %q not found", id))
		return
	}
	resp := setResponse{
		ExerciseSetID: entry.Set.ExerciseSetID,
		Profile:       entry.Profile,
		Exercises:     entry.Set.Exercises,
		Responses:     entry.Responses,
	}
	if resp.Exercises == nil {
		resp.Exercises = []exercise.Exercise{}
	}
	if resp.Responses == nil {
		resp.Responses = map[string]json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitRequest is the body of POST /api/feedback.
type submitRequest struct {
	ExerciseSetID string          `json:"exerciseSetId"`
	ExerciseID    string          `json:"exerciseId"`
	Profile       string          `json:"profile"`
	Feedback      json.RawMessage `json:"feedback"`
}

// SubmitFeedback stores client feedback for one exercise of a cached set.
// Unknown sets and sets generated for another profile are answered with 404.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFeedbackBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req.ExerciseSetID = strings.TrimSpace(req.ExerciseSetID)
	req.ExerciseID = strings.TrimSpace(req.ExerciseID)
	req.Profile = strings.TrimSpace(req.Profile)
	if req.Profile == "" {
		req.Profile = h.defaultProfile
	}
	fb := bytes.TrimSpace(req.Feedback)
	if req.ExerciseSetID == "" || req.ExerciseID == "" || len(fb) == 0 || bytes.Equal(fb, []byte("null")) {
		writeError(w, http.StatusBadRequest, "exerciseSetId, exerciseId and feedback are required")
		return
	}

	err := h.sets.AddResponse(req.ExerciseSetID, req.Profile, req.ExerciseID, fb)
	switch {
	case errors.Is(err, exercise.ErrSetNotFound):
		writeError(w, http.StatusNotFound, "exercise set not found or wrong profile")
		return
	case errors.Is(err, exercise.ErrExerciseNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("exercise %q not found", req.ExerciseID))
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	observe.Logger(r.Context()).Debug("client feedback recorded",
		"profile", req.Profile, "exercise_set_id", req.ExerciseSetID, "exercise_id", req.ExerciseID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "feedback recorded"})
}

// Analyze evaluates one recorded attempt against its reference recording.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many analysis requests, try again shortly")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	userAudio, err := readAudio(r, "audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	refAudio, err := readAudio(r, "ref")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := h.profile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := pronunciation.Request{
		Profile:       profile,
		ExerciseID:    strings.TrimSpace(r.FormValue("exerciseId")),
		ExerciseSetID: strings.TrimSpace(r.FormValue("exerciseSetId")),
		UserAudio:     userAudio,
		RefAudio:      refAudio,
	}
	res, err := h.analyzer.Analyze(r.Context(), req)
	switch {
	case errors.Is(err, pronunciation.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Error("analysis failed", "profile", req.Profile, "err", err)
		res = &pronunciation.Result{Feedback: pronunciation.Feedback{Error: err.Error()}}
	}
	writeJSON(w, http.StatusOK, res)
}

// feedbackResponse is the body of GET /api/feedback.
type feedbackResponse struct {
	Profile  string            `json:"profile"`
	Feedback []feedback.Record `json:"feedback"`
}

// Feedback returns the recent feedback history for a profile.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{
		Profile:  profile,
		Feedback: h.history.Recent(profile),
	})
}

// readAudio reads the uploaded file in field. A missing file yields an empty
// recording so the analyzer can reject it with its own error.
func readAudio(r *http.Request, field string) (stt.Audio, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return stt.Audio{}, nil
	}
	if err != nil {
		return stt.Audio{}, fmt.Errorf("read %s upload: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return stt.Audio{}, fmt.Errorf("read %s upload: %w", field, err)
	}

	audio := stt.Audio{
		Data:        data,
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
	}
	// Browsers often upload recordings as an untyped "blob"; providers that
	// pick the decoder from the extension need the real container format.
	needsType := audio.ContentType == "" || audio.ContentType == "application/octet-stream"
	needsName := audio.Filename == "" || audio.Filename == "blob"
	if len(data) > 0 && (needsType || needsName) {
		mt := mimetype.Detect(data)
		if needsType {
			audio.ContentType = mt.String()
		}
		if needsName {
			audio.Filename = field + mt.Extension()
		}
	}
	return audio, nil
}

// profile returns the request's profile or the default one.
func (h *Handler) profile(r *http.Request) (string, error) {
	p := formValue(r, "profile", h.defaultProfile)
	if !exercise.ValidProfile(p) {
		return "", errInvalidProfile
	}
	return p, nil
}

// formValue returns the trimmed form or query value for key, or def when it
// is blank.
func formValue(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return def
}

// errorResponse is the body of every 4xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write JSON response", "status", status, "err", err)
	}
}
