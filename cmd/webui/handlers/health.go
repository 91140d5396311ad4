package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/23skdu/longbow-kurdish/internal/loader"
)

const Version = "0.1.0"

// Commit is set at build time with -ldflags "-X .../handlers.Commit=...".
var Commit = ""

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]Status `json:"checks"`
}

type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

// ModelStatus reports the state of the shared model.
type ModelStatus interface {
	Status() loader.Status
}

// TranslationQueue reports how many translations hold or wait for a
// generation slot.
type TranslationQueue interface {
	Pending() int64
	Capacity() int64
}

type SessionCounter interface {
	Len() int
}

// Probes are the components the health endpoints inspect. Nil fields are
// reported as not configured.
type Probes struct {
	Models   ModelStatus
	Queue    TranslationQueue
	Sessions SessionCounter
}

// MaxBacklog is how many waiting translations per generation slot readiness
// tolerates before asking the balancer to send traffic elsewhere.
const MaxBacklog = 8

var startTime = time.Now()

func HealthHandler(p Probes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   Version,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Checks: map[string]Status{
				"server":       {Status: "healthy"},
				"model":        checkModel(p.Models),
				"translations": checkQueue(p.Queue),
				"sessions":     checkSessions(p.Sessions),
			},
		}
		for _, check := range status.Checks {
			if check.Status == "unhealthy" {
				status.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	}
}

// ReadyzHandler fails while the last model load attempt failed or the
// translation backlog is over MaxBacklog. A model that has not been requested
// yet does not block readiness; it loads on first use.
func ReadyzHandler(p Probes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]Status{
			"model":        checkModel(p.Models),
			"translations": checkQueue(p.Queue),
		}

		ready := true
		for _, check := range checks {
			if check.Status != "healthy" {
				ready = false
			}
		}

		if ready {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Ready\n"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "not ready",
			"checks": checks,
		})
	}
}

func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := VersionInfo{
			Version:   Version,
			Commit:    Commit,
			GoVersion: runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

func checkModel(models ModelStatus) Status {
	if models == nil {
		return Status{Status: "healthy", Message: "no model configured"}
	}
	st := models.Status()
	switch {
	case st.Loaded && st.Info != nil:
		return Status{Status: "healthy", Message: "loaded " + st.Info.Base + " + " + st.Info.Adapter + " on " + st.Info.Device}
	case st.Loaded:
		return Status{Status: "healthy", Message: "loaded"}
	case st.LastErr != "":
		return Status{Status: "unhealthy", Message: st.LastErr}
	default:
		return Status{Status: "healthy", Message: "not loaded yet"}
	}
}

func checkQueue(q TranslationQueue) Status {
	if q == nil {
		return Status{Status: "healthy", Message: "no translator configured"}
	}
	pending, slots := q.Pending(), q.Capacity()
	waiting := pending - slots
	if waiting < 0 {
		waiting = 0
	}
	msg := fmt.Sprintf("%d running, %d waiting, %d slots", pending-waiting, waiting, slots)
	if waiting > MaxBacklog*slots {
		return Status{Status: "unhealthy", Message: msg}
	}
	return Status{Status: "healthy", Message: msg}
}

func checkSessions(sessions SessionCounter) Status {
	if sessions == nil {
		return Status{Status: "healthy", Message: "no session store"}
	}
	return Status{Status: "healthy", Message: strconv.Itoa(sessions.Len()) + " active"}
}
