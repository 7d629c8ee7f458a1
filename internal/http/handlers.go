package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"meterlog/internal/core"
	"meterlog/internal/events"
)

const listLimit = 12

// readingResponse is the stable JSON shape of one monthly reading.
type readingResponse struct {
	ID         int64     `json:"id"`
	Month      string    `json:"month"`
	GasKWh     float64   `json:"gas_kwh"`
	WaterM3    float64   `json:"water_m3"`
	SolarKWh   float64   `json:"solar_kwh"`
	PulseCount int64     `json:"pulse_count"`
	Tariff1KWh float64   `json:"tariff1_kwh"`
	Tariff2KWh float64   `json:"tariff2_kwh"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// readingRequest is the write payload. Numeric fields left out by the
// caller decode to zero, which is exactly the stored default.
type readingRequest struct {
	Month      string  `json:"month"`
	GasKWh     float64 `json:"gas_kwh"`
	WaterM3    float64 `json:"water_m3"`
	SolarKWh   float64 `json:"solar_kwh"`
	PulseCount int64   `json:"pulse_count"`
	Tariff1KWh float64 `json:"tariff1_kwh"`
	Tariff2KWh float64 `json:"tariff2_kwh"`
}

func (req readingRequest) toReading() core.Reading {
	return core.Reading{
		Month:      req.Month,
		GasKWh:     req.GasKWh,
		WaterM3:    req.WaterM3,
		SolarKWh:   req.SolarKWh,
		PulseCount: req.PulseCount,
		Tariff1KWh: req.Tariff1KWh,
		Tariff2KWh: req.Tariff2KWh,
	}
}

func toReadingResponse(r core.Reading) readingResponse {
	return readingResponse{
		ID:         r.ID,
		Month:      r.Month,
		GasKWh:     r.GasKWh,
		WaterM3:    r.WaterM3,
		SolarKWh:   r.SolarKWh,
		PulseCount: r.PulseCount,
		Tariff1KWh: r.Tariff1KWh,
		Tariff2KWh: r.Tariff2KWh,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// seriesPointResponse mirrors core.SeriesPoint for the chart endpoint.
type seriesPointResponse struct {
	Month     string `json:"month"`
	Label     string `json:"label"`
	LabelLong string `json:"label_long"`

	GasKWh     float64 `json:"gas_kwh"`
	WaterM3    float64 `json:"water_m3"`
	SolarKWh   float64 `json:"solar_kwh"`
	PulseCount int64   `json:"pulse_count"`
	Tariff1KWh float64 `json:"tariff1_kwh"`
	Tariff2KWh float64 `json:"tariff2_kwh"`

	GasDelta     float64 `json:"gas_delta"`
	WaterDelta   float64 `json:"water_delta"`
	SolarDelta   float64 `json:"solar_delta"`
	PulseDelta   int64   `json:"pulse_delta"`
	Tariff1Delta float64 `json:"tariff1_delta"`
	Tariff2Delta float64 `json:"tariff2_delta"`

	GasDetail     string `json:"gas_detail"`
	WaterDetail   string `json:"water_detail"`
	SolarDetail   string `json:"solar_detail"`
	PulseDetail   string `json:"pulse_detail"`
	Tariff1Detail string `json:"tariff1_detail"`
	Tariff2Detail string `json:"tariff2_detail"`
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := s.store.ListReadings(r.Context(), listLimit)
	if err != nil {
		slog.ErrorContext(r.Context(), "List readings error", "error", err)
		writeError(w, http.StatusInternalServerError, "error loading readings")
		return
	}

	resp := make([]readingResponse, 0, len(readings))
	for _, reading := range readings {
		resp = append(resp, toReadingResponse(reading))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	month := r.PathValue("month")
	if err := core.ValidateMonth(month); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reading, err := s.store.GetReading(r.Context(), month)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "month not found")
			return
		}
		slog.ErrorContext(r.Context(), "Get reading error", "error", err, "month", month)
		writeError(w, http.StatusInternalServerError, "error loading reading")
		return
	}

	writeJSON(w, http.StatusOK, toReadingResponse(reading))
}

func (s *Server) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reading := req.toReading()
	if err := reading.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.CreateReading(r.Context(), reading)
	if err != nil {
		if errors.Is(err, core.ErrMonthExists) {
			writeError(w, http.StatusConflict, "reading for this month already exists")
			return
		}
		slog.ErrorContext(r.Context(), "Create reading error", "error", err, "month", reading.Month)
		writeError(w, http.StatusInternalServerError, "error saving reading")
		return
	}

	s.publishEvent(r.Context(), events.ActionCreated, reading.Month, id)

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "reading saved",
		"id":      id,
	})
}

func (s *Server) handleUpdateReading(w http.ResponseWriter, r *http.Request) {
	month := r.PathValue("month")
	if err := core.ValidateMonth(month); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Full overwrite keyed by the path month; a month in the body is
	// ignored, matching the original contract.
	reading := req.toReading()
	reading.Month = month
	if err := reading.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateReading(r.Context(), month, reading); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "month not found")
			return
		}
		slog.ErrorContext(r.Context(), "Update reading error", "error", err, "month", month)
		writeError(w, http.StatusInternalServerError, "error updating reading")
		return
	}

	s.publishEvent(r.Context(), events.ActionUpdated, month, 0)

	writeJSON(w, http.StatusOK, map[string]any{"message": "reading updated"})
}

func (s *Server) handleDeleteReading(w http.ResponseWriter, r *http.Request) {
	month := r.PathValue("month")
	if err := core.ValidateMonth(month); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.DeleteReading(r.Context(), month); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "month not found")
			return
		}
		slog.ErrorContext(r.Context(), "Delete reading error", "error", err, "month", month)
		writeError(w, http.StatusInternalServerError, "error deleting reading")
		return
	}

	s.publishEvent(r.Context(), events.ActionDeleted, month, 0)

	writeJSON(w, http.StatusOK, map[string]any{"message": "reading deleted"})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	window := core.DefaultWindow
	if v := r.URL.Query().Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 120 {
			writeError(w, http.StatusBadRequest, "window must be an integer between 1 and 120")
			return
		}
		window = n
	}

	readings, err := s.store.ListReadings(r.Context(), window)
	if err != nil {
		slog.ErrorContext(r.Context(), "List readings error", "error", err, "window", window)
		writeError(w, http.StatusInternalServerError, "error loading readings")
		return
	}

	points := core.DeriveSeries(readings, window)
	resp := make([]seriesPointResponse, 0, len(points))
	for _, p := range points {
		resp = append(resp, seriesPointResponse{
			Month:         p.Month,
			Label:         p.Label,
			LabelLong:     p.LabelLong,
			GasKWh:        p.GasKWh,
			WaterM3:       p.WaterM3,
			SolarKWh:      p.SolarKWh,
			PulseCount:    p.PulseCount,
			Tariff1KWh:    p.Tariff1KWh,
			Tariff2KWh:    p.Tariff2KWh,
			GasDelta:      p.GasDelta,
			WaterDelta:    p.WaterDelta,
			SolarDelta:    p.SolarDelta,
			PulseDelta:    p.PulseDelta,
			Tariff1Delta:  p.Tariff1Delta,
			Tariff2Delta:  p.Tariff2Delta,
			GasDetail:     p.GasDetail,
			WaterDetail:   p.WaterDetail,
			SolarDetail:   p.SolarDetail,
			PulseDetail:   p.PulseDetail,
			Tariff1Detail: p.Tariff1Detail,
			Tariff2Detail: p.Tariff2Detail,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		slog.ErrorContext(r.Context(), "Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unavailable",
			"timestamp": time.Now().UTC(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
