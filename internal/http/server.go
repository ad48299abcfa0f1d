package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/rickshaw-rides/internal/dispatch"
	"github.com/example/rickshaw-rides/internal/geo"
	"github.com/example/rickshaw-rides/internal/ingest"
	"github.com/example/rickshaw-rides/internal/lifecycle"
	"github.com/example/rickshaw-rides/internal/models"
	"github.com/example/rickshaw-rides/internal/points"
	"github.com/example/rickshaw-rides/internal/reports"
	"github.com/example/rickshaw-rides/internal/storage"
)

// Server wires the operation surface consumed by rider kiosks, driver
// devices and the admin dashboard. Kafka is optional; location updates are
// stored and indexed either way.
type Server struct {
	Store    storage.Store
	Engine   *lifecycle.Engine
	Points   *points.Ledger
	Reports  *reports.Service
	Index    geo.LocationIndex
	Kafka    *ingest.KafkaProducer
	WSReg    *dispatch.Registry
	mux      *mux.Router
	logger   *slog.Logger
}

func NewServer(store storage.Store, engine *lifecycle.Engine, ledger *points.Ledger, rep *reports.Service, index geo.LocationIndex, kafka *ingest.KafkaProducer, wsreg *dispatch.Registry, logger *slog.Logger) *Server {
	s := &Server{
		Store:   store,
		Engine:  engine,
		Points:  ledger,
		Reports: rep,
		Index:   index,
		Kafka:   kafka,
		WSReg:   wsreg,
		mux:     mux.NewRouter(),
		logger:  logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/ride/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/ride/status", s.handleRideStatus).Methods("GET")
	s.mux.HandleFunc("/api/ride/pending", s.handlePendingRides).Methods("GET")
	s.mux.HandleFunc("/api/ride/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/ride/pickup", s.handlePickup).Methods("POST")
	s.mux.HandleFunc("/api/ride/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/ride/cancel", s.handleCancel).Methods("POST")

	s.mux.HandleFunc("/api/rickshaw/register", s.handleRegister).Methods("POST")
	s.mux.HandleFunc("/api/rickshaw/location", s.handleLocation).Methods("POST")

	s.mux.HandleFunc("/api/locations", s.handleLocations).Methods("GET")

	s.mux.HandleFunc("/api/points/redeem", s.handleRedeem).Methods("POST")
	s.mux.HandleFunc("/api/points/adjust", s.handleAdjust).Methods("POST")
	s.mux.HandleFunc("/api/points/expire", s.handleExpire).Methods("POST")
	s.mux.HandleFunc("/api/points/history", s.handlePointsHistory).Methods("GET")

	s.mux.HandleFunc("/api/admin/stats", s.handleStats).Methods("GET")
	s.mux.HandleFunc("/api/admin/rider", s.handleRider).Methods("GET")
	s.mux.HandleFunc("/api/admin/analytics", s.handleAnalytics).Methods("GET")
	s.mux.HandleFunc("/api/admin/rides", s.handleListRides).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{rickshaw_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses. Contention
// outcomes never reach here; the accept handler reports them as
// success=false instead.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
