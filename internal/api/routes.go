package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes; metrics may be nil
func SetupRoutes(r *mux.Router, queue Queue, metrics http.Handler) {
	jobHandler := NewJobHandler(queue)

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/stats", jobHandler.GetStats).Methods("GET")
	api.HandleFunc("/jobs", jobHandler.EnqueueJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods("GET")

	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}
}

// NewRouter builds a router with every route installed
func NewRouter(queue Queue, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	SetupRoutes(r, queue, metrics)
	return r
}

// NewServer wraps the router in an http.Server listening on addr
func NewServer(addr string, queue Queue, metrics http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(queue, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
