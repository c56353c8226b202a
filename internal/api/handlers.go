package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/ponytojas/go-plant-monitor/internal/dashboard"
	"github.com/ponytojas/go-plant-monitor/internal/models"
	"github.com/ponytojas/go-plant-monitor/internal/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errNoData = errors.New("no telemetry received yet")

// statusDocument is served by /api/v1/status and pushed over /ws.
type statusDocument struct {
	DeviceID      string           `json:"device_id"`
	Gauge         *dashboard.Gauge `json:"gauge,omitempty"`
	Status        *status.Band     `json:"status,omitempty"`
	Countdown     int              `json:"countdown"`
	LastUpdate    *time.Time       `json:"last_update,omitempty"`
	LastUpdateAgo string           `json:"last_update_ago,omitempty"`
	Records       int              `json:"records"`
	RecordsText   string           `json:"records_text"`
}

type recordsResponse struct {
	DeviceID string              `json:"device_id"`
	Count    int                 `json:"count"`
	Records  []models.SensorData `json:"records"`
}

type classifyResponse struct {
	Moisture float64     `json:"moisture"`
	Status   status.Band `json:"status"`
}

type rangeRequest struct {
	Minutes *int `json:"minutes"`
}

func (s *Server) statusDocument() statusDocument {
	snap := s.state.Snapshot()
	doc := statusDocument{
		DeviceID:    snap.DeviceID,
		Gauge:       snap.Gauge,
		Countdown:   snap.Countdown,
		Records:     snap.Records,
		RecordsText: humanize.Comma(int64(snap.Records)),
	}
	if snap.Gauge != nil {
		band := snap.Gauge.Band
		doc.Status = &band
	}
	if !snap.LastUpdate.IsZero() {
		last := snap.LastUpdate
		doc.LastUpdate = &last
		doc.LastUpdateAgo = humanize.RelTime(last, s.now(), "ago", "from now")
	}
	return doc
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	doc := s.statusDocument()
	if doc.Gauge == nil {
		writeError(w, http.StatusServiceUnavailable, errNoData.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	var records []models.SensorData
	switch mux.Vars(r)["kind"] {
	case "recent":
		records = s.state.Recent()
	case "past":
		records = s.state.Past()
	case "history":
		records = s.state.History()
		if raw := r.URL.Query().Get("since"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid since; use RFC3339")
				return
			}
			records = trimBefore(records, since)
		}
	default:
		writeError(w, http.StatusNotFound, "unknown record set")
		return
	}
	if records == nil {
		records = []models.SensorData{}
	}
	writeJSON(w, http.StatusOK, recordsResponse{
		DeviceID: s.state.DeviceID(),
		Count:    len(records),
		Records:  records,
	})
}

// trimBefore drops the leading samples older than since; records are sorted.
func trimBefore(records []models.SensorData, since time.Time) []models.SensorData {
	for i, d := range records {
		if !d.Timestamp.Before(since) {
			return records[i:]
		}
	}
	return nil
}

func (s *Server) listCharts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.ChartRanges())
}

func (s *Server) getChart(w http.ResponseWriter, r *http.Request) {
	m, ok := models.ParseMetric(mux.Vars(r)["metric"])
	if !ok {
		writeError(w, http.StatusNotFound, dashboard.ErrUnknownMetric.Error())
		return
	}
	chart, err := s.state.Chart(m, s.now())
	if err != nil {
		s.writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (s *Server) putChartRange(w http.ResponseWriter, r *http.Request) {
	m, ok := models.ParseMetric(mux.Vars(r)["metric"])
	if !ok {
		writeError(w, http.StatusNotFound, dashboard.ErrUnknownMetric.Error())
		return
	}
	defer r.Body.Close()
	var req rangeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Minutes == nil {
		writeError(w, http.StatusBadRequest, "minutes is required")
		return
	}
	if err := s.state.SetChartRange(m, *req.Minutes); err != nil {
		s.writeStateError(w, err)
		return
	}
	chart, err := s.state.Chart(m, s.now())
	if err != nil {
		s.writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("moisture")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "moisture is required")
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		writeError(w, http.StatusBadRequest, "moisture must be a number")
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Moisture: v, Status: s.state.Classify(v)})
}

func (s *Server) postRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh is not available")
		return
	}
	queued := s.refresher.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (s *Server) writeStateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dashboard.ErrUnknownMetric):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dashboard.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Unexpected state error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
