package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/campaign"
	"github.com/azure/reply-campaigns-bot/internal/eventlog"
	"github.com/azure/reply-campaigns-bot/internal/metrics"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/scheduler"
	"github.com/azure/reply-campaigns-bot/internal/storage"
	"github.com/azure/reply-campaigns-bot/internal/tracking"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const keepAliveInterval = 15 * time.Second

type api struct {
	campaigns *campaign.Service
	scheduler *scheduler.Service
	events    *eventlog.Log
	links     *tracking.Shortener
}

func newRouter(a *api) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/scheduler/metrics", a.schedulerMetrics).Methods("GET")
	router.HandleFunc("/trigger", a.trigger).Methods("POST")

	router.HandleFunc("/campaigns", a.listCampaigns).Methods("GET")
	router.HandleFunc("/campaigns", a.createCampaign).Methods("POST")
	router.HandleFunc("/campaigns/{id}/status", a.campaignStatus).Methods("GET")
	router.HandleFunc("/campaigns/{id}/analytics", a.campaignAnalytics).Methods("GET")
	router.HandleFunc("/campaigns/{id}/start", a.startCampaign).Methods("POST")
	router.HandleFunc("/campaigns/{id}/stop", a.stopCampaign).Methods("POST")
	router.HandleFunc("/campaigns/{id}/process", a.processCampaign).Methods("POST")
	router.HandleFunc("/campaigns/{id}/analyze", a.analyzeCampaign).Methods("POST")
	router.HandleFunc("/campaigns/{id}/analyses", a.listAnalyses).Methods("GET")
	router.HandleFunc("/campaigns/{id}/analyses/{name}", a.getAnalysis).Methods("GET")
	router.HandleFunc("/campaigns/{id}/logs", a.streamLogs).Methods("GET")

	router.HandleFunc("/r/{code}", a.redirect).Methods("GET")

	return router
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func (a *api) schedulerMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(a.scheduler.GetMetrics()))
}

func (a *api) trigger(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := a.scheduler.RunTick(context.Background()); err != nil {
			logrus.Errorf("Manual scheduler trigger failed: %v", err)
		}
	}()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Scheduler tick triggered successfully"})
}

func (a *api) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := a.campaigns.ListCampaigns(r.Context(), models.CampaignStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (a *api) createCampaign(w http.ResponseWriter, r *http.Request) {
	var c models.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	created, err := a.campaigns.CreateCampaign(r.Context(), &c)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *api) campaignStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.campaigns.GetCampaignStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) campaignAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := a.campaigns.GetAnalytics(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (a *api) startCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.campaigns.StartCampaign(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Campaign started", "campaign_id": id})
}

func (a *api) stopCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.campaigns.StopCampaign(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Campaign paused", "campaign_id": id})
}

func (a *api) processCampaign(w http.ResponseWriter, r *http.Request) {
	result, err := a.campaigns.ProcessPendingReply(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Denied {
		writeJSON(w, http.StatusTooManyRequests, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *api) analyzeCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.scheduler.TriggerAnalysis(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Analysis started", "campaign_id": id})
}

func (a *api) listAnalyses(w http.ResponseWriter, r *http.Request) {
	names, err := a.campaigns.ListAnalyses(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (a *api) getAnalysis(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	report, err := a.campaigns.GetAnalysis(r.Context(), vars["id"], vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// streamLogs replays the campaign's recent log entries and then streams new ones as server-sent events
func (a *api) streamLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.campaigns.GetCampaign(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logrus.Debugf("Could not lift write deadline for log stream: %v", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := a.events.Subscribe(id)
	defer sub.Close()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				logrus.Errorf("Failed to encode log entry: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (a *api) redirect(w http.ResponseWriter, r *http.Request) {
	target, err := a.links.Resolve(r.Context(), mux.Vars(r)["code"], tracking.ClickInfo{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		writeError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrInvalidTransition), errors.Is(err, campaign.ErrAnalysisRunning):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrNotAuthenticated):
		return http.StatusPreconditionFailed
	case errors.Is(err, campaign.ErrUnsupportedProvider):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logrus.Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}
