package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/RobertoIHH/MQ7ServerWifi/models"
	"github.com/RobertoIHH/MQ7ServerWifi/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Relay is the part of the hub the REST layer needs.
type Relay interface {
	Snapshot() models.Snapshot
	RequestModeChange(mode models.Mode) error
}

type Server struct {
	relay  Relay
	store  services.LogStore
	logger *zap.Logger
}

func NewServer(relay Relay, store services.LogStore, logger *zap.Logger) *Server {
	return &Server{relay: relay, store: store, logger: logger}
}

type changeGasRequest struct {
	Gas string `json:"gas"`
}

type changeGasResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Gas     models.Mode `json:"gas"`
}

type datesResponse struct {
	Dates []string `json:"dates"`
}

type dayResponse struct {
	Date  string           `json:"date"`
	Data  []*models.Record `json:"data"`
	Count int              `json:"count"`
}

type summaryResponse struct {
	Date         string                `json:"date"`
	Summary      map[string]GasSummary `json:"summary"`
	TotalRecords int                   `json:"totalRecords"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) data(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Snapshot())
}

func (s *Server) changeGas(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req changeGasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Gas == "" {
		writeError(w, http.StatusBadRequest, "gas is required")
		return
	}
	mode, err := models.ParseMode(req.Gas)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gas type")
		return
	}

	if err := s.relay.RequestModeChange(mode); err != nil {
		if errors.Is(err, services.ErrNoSensor) {
			writeError(w, http.StatusServiceUnavailable, "no sensors connected")
			return
		}
		s.logger.Error("Mode change failed", zap.String("gas", req.Gas), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "mode change failed")
		return
	}

	writeJSON(w, http.StatusOK, changeGasResponse{
		Success: true,
		Message: fmt.Sprintf("Command to switch to gas %s sent", mode),
		Gas:     mode,
	})
}

func (s *Server) historyDates(w http.ResponseWriter, _ *http.Request) {
	dates, err := s.store.ListDays()
	if err != nil {
		s.logger.Error("Failed to list history dates", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, datesResponse{Dates: dates})
}

func (s *Server) historyDay(w http.ResponseWriter, r *http.Request) {
	date, records, ok := s.readDay(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dayResponse{Date: date, Data: records, Count: len(records)})
}

func (s *Server) historySummary(w http.ResponseWriter, r *http.Request) {
	date, records, ok := s.readDay(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Date:         date,
		Summary:      Summarize(records),
		TotalRecords: len(records),
	})
}

// readDay resolves the {date} route variable and loads that day's records,
// writing the error response itself when it fails.
func (s *Server) readDay(w http.ResponseWriter, r *http.Request) (string, []*models.Record, bool) {
	date := mux.Vars(r)["date"]
	if !datePattern.MatchString(date) {
		writeError(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
		return "", nil, false
	}

	records, err := s.store.ReadDay(date)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrDayNotFound):
		writeError(w, http.StatusNotFound, "no data for this date")
		return "", nil, false
	case errors.Is(err, services.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
		return "", nil, false
	default:
		s.logger.Error("Failed to read history", zap.String("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return "", nil, false
	}

	if records == nil {
		records = []*models.Record{}
	}
	return date, records, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
