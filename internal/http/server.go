// Package http exposes the orchestrator to the surrounding application:
// submit, poll, bulk submit, system status and emergency controls. Field
// names match what the dashboard and CLI tooling already expect.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Tight5/Zero-Gate-sub000/internal/log"
	"github.com/Tight5/Zero-Gate-sub000/pkg/scheduler"
	"github.com/pkg/errors"
)

// NewMux wires all orchestrator routes onto a fresh mux.
func NewMux(sched *scheduler.Scheduler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/tasks", TasksHandler(sched))
	mux.HandleFunc("/tasks/bulk", BulkTasksHandler(sched))
	mux.HandleFunc("/tasks/", TaskByIDHandler(sched))
	mux.HandleFunc("/system/status", SystemStatusHandler(sched))
	mux.HandleFunc("/system/emergency", EmergencyHandler(sched))
	return mux
}

func StartServer(port string, sched *scheduler.Scheduler) error {
	log.GetLogger().Infof("Starting orchestrator server on :%s", port)
	return http.ListenAndServe(":"+port, NewMux(sched))
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Orchestrator server is running")
}

func TasksHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req scheduler.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		id, err := sched.Submit(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
	}
}

func BulkTasksHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var reqs []scheduler.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		ids, err := sched.SubmitAll(reqs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string][]string{"task_ids": ids})
	}
}

func TaskByIDHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/tasks/")
		if id == "" || strings.Contains(id, "/") {
			http.Error(w, "Invalid task id", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			task, err := sched.Status(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"task_id":       task.ID,
				"status":        task.Status,
				"result":        task.Result,
				"error":         task.Error,
				"progress":      task.Progress,
				"attempt_count": task.AttemptCount,
			})
		case http.MethodDelete:
			cancelled := sched.Cancel(id)
			writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func SystemStatusHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, sched.SystemStatus())
	}
}

type emergencyRequest struct {
	Action string `json:"action"`
}

func EmergencyHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req emergencyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		affected := 0
		switch req.Action {
		case "pause_all":
			sched.PauseAll()
		case "resume_all":
			sched.ResumeAll()
		case "stop_agent":
			affected = sched.StopAgent()
		default:
			http.Error(w, fmt.Sprintf("Unknown action %q", req.Action), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":        true,
			"affected_count": affected,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var validation *scheduler.ValidationError
	var notFound *scheduler.TaskNotFoundError
	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Error(), http.StatusBadRequest)
	case errors.As(err, &notFound):
		http.Error(w, notFound.Error(), http.StatusNotFound)
	default:
		log.GetLogger().Errorf("Request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
