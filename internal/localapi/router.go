package localapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fieldaxis/fieldsync/internal/actions"
	"github.com/fieldaxis/fieldsync/internal/api"
	"github.com/fieldaxis/fieldsync/internal/draft"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/queue"
	"github.com/fieldaxis/fieldsync/internal/readmodel"
	"github.com/fieldaxis/fieldsync/internal/session"
	"github.com/fieldaxis/fieldsync/internal/syncer"
	"github.com/fieldaxis/fieldsync/internal/tracking"
)

// Router is the local command surface the UI views call. It runs on the
// loopback hub address next to the websocket endpoints; nothing here is
// reachable from the network.
type Router struct {
	*mux.Router
	session  *session.Session
	acts     *actions.Service
	drafts   *draft.Autosave
	views    *readmodel.ReadModels
	pipeline *tracking.Pipeline
	feed     *tracking.DeviceFeed
	syncMgr  *syncer.Manager
	queue    *queue.Queue
}

// NewRouter creates the local API with all routes
func NewRouter(
	sess *session.Session,
	acts *actions.Service,
	drafts *draft.Autosave,
	views *readmodel.ReadModels,
	pipeline *tracking.Pipeline,
	feed *tracking.DeviceFeed,
	syncMgr *syncer.Manager,
	q *queue.Queue,
) *Router {
	r := &Router{
		Router:   mux.NewRouter(),
		session:  sess,
		acts:     acts,
		drafts:   drafts,
		views:    views,
		pipeline: pipeline,
		feed:     feed,
		syncMgr:  syncMgr,
		queue:    q,
	}

	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	r.HandleFunc("/state", r.getState).Methods("GET")

	sessRoutes := r.PathPrefix("/session").Subrouter()
	sessRoutes.HandleFunc("/token", r.setToken).Methods("POST")
	sessRoutes.HandleFunc("/unlock-credential", r.cacheUnlockCredential).Methods("POST")
	sessRoutes.HandleFunc("/unlock", r.offlineUnlock).Methods("POST")

	jobs := r.PathPrefix("/jobs").Subrouter()
	jobs.HandleFunc("", r.listJobs).Methods("GET")
	jobs.HandleFunc("/{id}/status", r.setJobStatus).Methods("PUT")
	jobs.HandleFunc("/{id}/complete", r.completeJob).Methods("POST")
	jobs.HandleFunc("/{id}/draft", r.getDraft).Methods("GET")
	jobs.HandleFunc("/{id}/draft", r.saveDraft).Methods("PUT")
	jobs.HandleFunc("/{id}/draft", r.clearDraft).Methods("DELETE")

	trackingRoutes := r.PathPrefix("/tracking").Subrouter()
	trackingRoutes.HandleFunc("/consent", r.getConsent).Methods("GET")
	trackingRoutes.HandleFunc("/consent", r.setConsent).Methods("POST")

	device := r.PathPrefix("/device").Subrouter()
	device.HandleFunc("/position", r.reportPosition).Methods("POST")
	device.HandleFunc("/permission", r.reportPermission).Methods("POST")

	syncRoutes := r.PathPrefix("/sync").Subrouter()
	syncRoutes.HandleFunc("/drain", r.requestDrain).Methods("POST")
	syncRoutes.HandleFunc("/failed", r.listFailed).Methods("GET")

	return r
}

func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) getState(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.views.Snapshot())
}

func (r *Router) setToken(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}
	r.session.SetToken(body.Token)
	respondJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (r *Router) cacheUnlockCredential(w http.ResponseWriter, req *http.Request) {
	var body struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.PIN == "" {
		respondError(w, http.StatusBadRequest, "pin is required")
		return
	}
	if err := r.session.CacheUnlockCredential(body.PIN); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cached"})
}

func (r *Router) offlineUnlock(w http.ResponseWriter, req *http.Request) {
	var body struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := r.session.VerifyOfflineUnlock(body.PIN)
	if err != nil {
		if errors.Is(err, session.ErrNoUnlockCredential) {
			respondError(w, http.StatusNotFound, "no cached unlock credential")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusUnauthorized, "incorrect pin")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (r *Router) listJobs(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.views.Jobs())
}

func (r *Router) setJobStatus(w http.ResponseWriter, req *http.Request) {
	jobID, ok := pathID(w, req)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Status == "" {
		respondError(w, http.StatusBadRequest, "status is required")
		return
	}

	outcome, err := r.acts.SetJobStatus(req.Context(), jobID, body.Status)
	if err != nil {
		respondActionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (r *Router) completeJob(w http.ResponseWriter, req *http.Request) {
	jobID, ok := pathID(w, req)
	if !ok {
		return
	}
	var completion models.JobCompletion
	if err := json.NewDecoder(req.Body).Decode(&completion); err != nil {
		respondError(w, http.StatusBadRequest, "invalid completion payload")
		return
	}

	outcome, err := r.acts.CompleteJob(req.Context(), jobID, completion)
	if err != nil {
		respondActionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (r *Router) getDraft(w http.ResponseWriter, req *http.Request) {
	jobID, ok := pathID(w, req)
	if !ok {
		return
	}
	d, err := r.drafts.Get(jobID)
	if err != nil {
		if errors.Is(err, draft.ErrNoDraft) {
			respondError(w, http.StatusNotFound, "no draft")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (r *Router) saveDraft(w http.ResponseWriter, req *http.Request) {
	jobID, ok := pathID(w, req)
	if !ok {
		return
	}
	var d models.JobDraft
	if err := json.NewDecoder(req.Body).Decode(&d); err != nil {
		respondError(w, http.StatusBadRequest, "invalid draft payload")
		return
	}
	r.drafts.Save(jobID, d)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "saving"})
}

func (r *Router) clearDraft(w http.ResponseWriter, req *http.Request) {
	jobID, ok := pathID(w, req)
	if !ok {
		return
	}
	if err := r.drafts.Clear(jobID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (r *Router) getConsent(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"consent": r.pipeline.Consent()})
}

func (r *Router) setConsent(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Consent string `json:"consent"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch body.Consent {
	case models.ConsentGranted, models.ConsentRevoked:
	default:
		respondError(w, http.StatusBadRequest, "consent must be granted or revoked")
		return
	}
	if err := r.pipeline.SetConsent(body.Consent); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"consent": body.Consent})
}

// reportPosition is how the UI shell feeds platform geolocation fixes into
// the tracking pipeline
func (r *Router) reportPosition(w http.ResponseWriter, req *http.Request) {
	var pos tracking.Position
	if err := json.NewDecoder(req.Body).Decode(&pos); err != nil {
		respondError(w, http.StatusBadRequest, "invalid position payload")
		return
	}
	r.feed.Report(pos)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "reported"})
}

func (r *Router) reportPermission(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Denied bool `json:"denied"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	r.feed.SetDenied(body.Denied)
	respondJSON(w, http.StatusOK, map[string]bool{"denied": body.Denied})
}

func (r *Router) requestDrain(w http.ResponseWriter, req *http.Request) {
	r.syncMgr.RequestDrain()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "drain requested"})
}

func (r *Router) listFailed(w http.ResponseWriter, req *http.Request) {
	failed, err := r.queue.ListFailed()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, failed)
}

func pathID(w http.ResponseWriter, req *http.Request) (uint, bool) {
	raw := mux.Vars(req)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return uint(id), true
}

// respondActionError maps the mutation error taxonomy onto local HTTP codes
// for the views: rejections carry the server's verdict, unavailability is a
// gateway problem.
func respondActionError(w http.ResponseWriter, err error) {
	var rejected *api.RemoteRejectedError
	if errors.As(err, &rejected) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	var unavailable *api.RemoteUnavailableError
	if errors.As(err, &unavailable) {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
