package lab

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Soberat/GLAD/internal/device"
	"github.com/Soberat/GLAD/internal/instrument"
	"github.com/Soberat/GLAD/internal/pkg/metrics"
	"github.com/Soberat/GLAD/internal/pkg/middleware"
	"github.com/Soberat/GLAD/internal/profile"
	"github.com/Soberat/GLAD/internal/recorder"
	"github.com/Soberat/GLAD/internal/worker"
)

const (
	apiPrefix           = "/api/v1"
	defaultHistoryLimit = 100
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Message string `json:"message,omitempty"`
}

// CommandRequest is the body of a command, on HTTP and on MQTT.
type CommandRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type pollIntervalRequest struct {
	Interval string `json:"interval"`
}

type profileStarted struct {
	RunID string `json:"run_id"`
}

type api struct {
	lab *Lab
}

// Handler returns the control API.
func (l *Lab) Handler() http.Handler {
	a := &api{lab: l}

	r := mux.NewRouter().StrictSlash(true)
	r.Use(middleware.Logging(l.log.WithName("http")), middleware.Timeout(l.cfg.HttpOptions.Timeout))

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	devices := apiPrefix + "/devices"
	r.HandleFunc(devices, a.listDevices).Methods(http.MethodGet)
	r.HandleFunc(devices+"/{id}", a.getDevice).Methods(http.MethodGet)
	r.HandleFunc(devices+"/{id}/commands", a.postCommand).Methods(http.MethodPost)
	r.HandleFunc(devices+"/{id}/poll-interval", a.putPollInterval).Methods(http.MethodPut)
	r.HandleFunc(devices+"/{id}/disconnect", a.postDisconnect).Methods(http.MethodPost)
	r.HandleFunc(devices+"/{id}/profile", a.postProfile).Methods(http.MethodPost)
	r.HandleFunc(devices+"/{id}/profile", a.getProfile).Methods(http.MethodGet)
	r.HandleFunc(devices+"/{id}/profile", a.deleteProfile).Methods(http.MethodDelete)
	r.HandleFunc(devices+"/{id}/readings", a.getReadings).Methods(http.MethodGet)
	r.HandleFunc(devices+"/{id}/events", a.getEvents).Methods(http.MethodGet)

	return r
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	replyJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) readyz(w http.ResponseWriter, r *http.Request) {
	if !a.lab.Ready() {
		replyError(w, http.StatusServiceUnavailable, "workers are not running")
		return
	}
	replyJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listDevices(w http.ResponseWriter, r *http.Request) {
	replyJSON(w, http.StatusOK, a.lab.Devices())
}

func (a *api) getDevice(w http.ResponseWriter, r *http.Request) {
	st, err := a.lab.Describe(mux.Vars(r)["id"])
	if err != nil {
		replyFailure(w, err)
		return
	}
	replyJSON(w, http.StatusOK, st)
}

func (a *api) postCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		replyError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.lab.Command(mux.Vars(r)["id"], req.Name, req.Value); err != nil {
		replyFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) putPollInterval(w http.ResponseWriter, r *http.Request) {
	var req pollIntervalRequest
	if err := decodeJSON(r, &req); err != nil {
		replyError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := time.ParseDuration(req.Interval)
	if err != nil {
		replyError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.lab.SetPollInterval(mux.Vars(r)["id"], d); err != nil {
		replyFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) postDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.lab.Disconnect(mux.Vars(r)["id"]); err != nil {
		replyFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) postProfile(w http.ResponseWriter, r *http.Request) {
	var spec ProfileSpec
	if err := decodeJSON(r, &spec); err != nil {
		replyError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := a.lab.StartProfile(r.Context(), mux.Vars(r)["id"], spec)
	if err != nil {
		replyFailure(w, err)
		return
	}
	replyJSON(w, http.StatusAccepted, profileStarted{RunID: runID})
}

func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	st, err := a.lab.ProfileStatus(mux.Vars(r)["id"])
	if err != nil {
		replyFailure(w, err)
		return
	}
	replyJSON(w, http.StatusOK, st)
}

func (a *api) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := a.lab.StopProfile(r.Context(), mux.Vars(r)["id"]); err != nil {
		replyFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) getReadings(w http.ResponseWriter, r *http.Request) {
	id, rec, limit, ok := a.history(w, r)
	if !ok {
		return
	}
	readings, err := rec.Readings(r.Context(), id, r.URL.Query().Get("name"), limit)
	if err != nil {
		replyFailure(w, err)
		return
	}
	replyJSON(w, http.StatusOK, readings)
}

func (a *api) getEvents(w http.ResponseWriter, r *http.Request) {
	id, rec, limit, ok := a.history(w, r)
	if !ok {
		return
	}
	entries, err := rec.Entries(r.Context(), id, limit)
	if err != nil {
		replyFailure(w, err)
		return
	}
	replyJSON(w, http.StatusOK, entries)
}

// history resolves the common parameters of the measurement log endpoints
// and replies with an error itself when they are invalid.
func (a *api) history(w http.ResponseWriter, r *http.Request) (string, *recorder.Recorder, int, bool) {
	id := mux.Vars(r)["id"]
	if _, err := a.lab.Device(id); err != nil {
		replyFailure(w, err)
		return "", nil, 0, false
	}
	rec := a.lab.Recorder()
	if rec == nil {
		replyError(w, http.StatusNotFound, "recorder is disabled")
		return "", nil, 0, false
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			replyError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return "", nil, 0, false
		}
		limit = n
	}
	return id, rec, limit, true
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, profile.ErrAlreadyRunning), errors.Is(err, profile.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidProfile),
		errors.Is(err, ErrNotProfiled),
		errors.Is(err, instrument.ErrUnknownCommand),
		errors.Is(err, worker.ErrInvalidPeriod),
		device.KindOf(err) == device.KindProgramming:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func replyFailure(w http.ResponseWriter, err error) {
	replyError(w, statusFor(err), err.Error())
}

func replyError(w http.ResponseWriter, code int, msg string) {
	replyJSON(w, code, ErrorResponse{Message: msg})
}

func replyJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}
