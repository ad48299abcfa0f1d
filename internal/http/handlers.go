package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/rickshaw-rides/internal/ingest"
	"github.com/example/rickshaw-rides/internal/models"
	"github.com/example/rickshaw-rides/internal/observability"
	"github.com/example/rickshaw-rides/internal/storage"
)

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pickup      string `json:"pickup"`
		Destination string `json:"destination"`
		RiderID     string `json:"riderID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	ride, err := s.Engine.RequestRide(r.Context(), req.Pickup, req.Destination, req.RiderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rideID": ride.ID, "status": ride.Status})
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	block := r.URL.Query().Get("pickup")
	if block == "" {
		s.writeError(w, fmt.Errorf("%w: pickup is required", models.ErrValidation))
		return
	}
	status, err := s.Engine.LatestStatusForPickup(r.Context(), block)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pickup": block, "status": status})
}

func (s *Server) handlePendingRides(w http.ResponseWriter, r *http.Request) {
	rickshawID := r.URL.Query().Get("rickshawID")
	if rickshawID == "" {
		s.writeError(w, fmt.Errorf("%w: rickshawID is required", models.ErrValidation))
		return
	}
	pending, err := s.Engine.ListPendingFor(r.Context(), rickshawID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": pending})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RideID     int64  `json:"rideID"`
		RickshawID string `json:"rickshawID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.RideID == 0 || req.RickshawID == "" {
		s.writeError(w, fmt.Errorf("%w: rideID and rickshawID are required", models.ErrValidation))
		return
	}
	ride, err := s.Engine.AcceptRide(r.Context(), req.RideID, req.RickshawID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ride": ride})
	case errors.Is(err, models.ErrAlreadyTaken):
		// contention is a normal outcome, the device just re-polls
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "reason": "ALREADY_TAKEN"})
	case errors.Is(err, models.ErrRaceLost):
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "reason": "RACE_LOST"})
	default:
		s.writeError(w, err)
	}
}

func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RideID int64 `json:"rideID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if err := s.Engine.ConfirmPickup(r.Context(), req.RideID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RideID  int64   `json:"rideID"`
		DropLat float64 `json:"dropLat"`
		DropLng float64 `json:"dropLng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	res, err := s.Engine.CompleteRide(r.Context(), req.RideID, models.Coord{Lat: req.DropLat, Lng: req.DropLng})
	if err != nil {
		s.writeError(w, err)
		return
	}
	// distance is a formatted string; the device display parses it that way
	writeJSON(w, http.StatusOK, map[string]any{
		"points":   res.Points,
		"distance": fmt.Sprintf("%.1f", res.Distance),
		"status":   res.Status,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RideID     int64  `json:"rideID"`
		RickshawID string `json:"rickshawID"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if err := s.Engine.CancelRide(r.Context(), req.RideID, req.RickshawID, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RickshawID string  `json:"rickshawID"`
		Puller     string  `json:"puller"`
		Contact    string  `json:"contact"`
		Lat        float64 `json:"lat"`
		Lng        float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.RickshawID == "" {
		s.writeError(w, fmt.Errorf("%w: rickshawID is required", models.ErrValidation))
		return
	}
	prior, err := s.Store.GetRickshaw(r.Context(), req.RickshawID)
	wasOnline := err == nil && prior.Online

	rick := models.Rickshaw{
		ID:        req.RickshawID,
		Puller:    req.Puller,
		Contact:   req.Contact,
		Loc:       models.Coord{Lat: req.Lat, Lng: req.Lng},
		Online:    true,
		UpdatedAt: time.Now(),
	}
	if err := s.Store.UpsertRickshaw(r.Context(), rick); err != nil {
		s.writeError(w, err)
		return
	}
	if s.Index != nil {
		s.Index.Upsert(rick.ID, rick.Loc)
	}
	// gauge counts offline→online transitions only; a re-register while
	// already online must not inflate it
	if !wasOnline {
		observability.RickshawsOnline.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"registered": rick.ID})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RickshawID string  `json:"rickshawID"`
		Lat        float64 `json:"lat"`
		Lng        float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.RickshawID == "" {
		s.writeError(w, fmt.Errorf("%w: rickshawID is required", models.ErrValidation))
		return
	}
	loc := models.Coord{Lat: req.Lat, Lng: req.Lng}
	if err := s.Store.UpdateRickshawLocation(r.Context(), req.RickshawID, loc, time.Now()); err != nil {
		s.writeError(w, err)
		return
	}
	if s.Index != nil {
		s.Index.Upsert(req.RickshawID, loc)
	}
	if s.Kafka != nil {
		_ = s.Kafka.PublishLocation(ingest.LocationUpdate{
			RickshawID: req.RickshawID,
			Loc:        loc,
			Online:     true,
			ReportedAt: time.Now(),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RickshawID string `json:"rickshawID"`
		Amount     int    `json:"amount"`
		Reward     string `json:"reward"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	balance, err := s.Points.Redeem(r.Context(), req.RickshawID, req.Amount, req.Reward)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RideID int64  `json:"rideID"`
		Points int    `json:"points"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	delta, err := s.Points.AdjustAward(r.Context(), req.RideID, req.Points, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delta": delta})
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.Days <= 0 {
		s.writeError(w, fmt.Errorf("%w: days must be > 0", models.ErrValidation))
		return
	}
	total, affected, err := s.Points.ExpireOlderThan(r.Context(), time.Duration(req.Days)*24*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": total, "rickshaws": affected})
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := s.Store.ListLocations(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locs})
}

func (s *Server) handlePointsHistory(w http.ResponseWriter, r *http.Request) {
	rickshawID := r.URL.Query().Get("rickshawID")
	if rickshawID == "" {
		s.writeError(w, fmt.Errorf("%w: rickshawID is required", models.ErrValidation))
		return
	}
	rick, err := s.Store.GetRickshaw(r.Context(), rickshawID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	txs, err := s.Store.ListPointsTx(r.Context(), rickshawID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": rick.Points, "transactions": txs})
}

func (s *Server) handleRider(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeError(w, fmt.Errorf("%w: id is required", models.ErrValidation))
		return
	}
	rider, err := s.Store.GetRider(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Reports.Dashboard(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.Reports.Analytics(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	f := storage.RideFilter{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, fmt.Errorf("%w: invalid limit", models.ErrValidation))
			return
		}
		f.Limit = n
	}
	if v := r.URL.Query().Get("status"); v != "" {
		f.Status = models.RideStatus(v)
	}
	rides, err := s.Store.ListRides(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["rickshaw_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response
		return
	}
	s.WSReg.Add(id, conn)
	// devices never send anything meaningful; the read pump exists to
	// notice the close and free the session
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.RemoveConn(id, conn)
				return
			}
		}
	}()
}
