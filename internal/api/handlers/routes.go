package handlers

import (
	"net/http"
	"strings"

	"github.com/ledgerscan/ledgerscan/internal/api/middleware"
)

// RegisterRoutes wires all handlers onto the mux.
func RegisterRoutes(mux *http.ServeMux, tasks *TasksHandler, batch *BatchHandler, export *ExportHandler) {
	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			tasks.ListTasks(w, r)
		case http.MethodPost:
			tasks.UploadDocuments(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/tasks/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
		if rest == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Task ID is required")
			return
		}
		parts := strings.Split(rest, "/")

		switch {
		// /api/tasks/{id}
		case len(parts) == 1:
			if r.Method != http.MethodGet {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			tasks.GetTask(w, r, parts[0])

		// /api/tasks/{id}/transactions
		case len(parts) == 2 && parts[1] == "transactions":
			if r.Method != http.MethodPost {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			tasks.AddTransaction(w, r, parts[0])

		// /api/tasks/{id}/transactions/{n}
		case len(parts) == 3 && parts[1] == "transactions":
			index, err := parseIndex(parts[2])
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			switch r.Method {
			case http.MethodPut:
				tasks.UpdateTransaction(w, r, parts[0], index)
			case http.MethodDelete:
				tasks.DeleteTransaction(w, r, parts[0], index)
			default:
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}

		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	mux.HandleFunc("/api/batch/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		batch.StartRun(w, r)
	})

	mux.HandleFunc("/api/batch/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		batch.CancelRun(w, r)
	})

	mux.HandleFunc("/api/batch/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		batch.Status(w, r)
	})

	mux.HandleFunc("/api/export/csv", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		export.ExportCSV(w, r)
	})

	mux.HandleFunc("/health", HealthHandler)
}
