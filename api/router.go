package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the REST endpoints, the WebSocket endpoint and the static
// viewer. publicDir may be empty to serve no static files.
func NewRouter(s *Server, ws http.Handler, publicDir string) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/ws", ws)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/data", s.data).Methods(http.MethodGet)
	api.HandleFunc("/change-gas", s.changeGas).Methods(http.MethodPost)
	api.HandleFunc("/history/dates", s.historyDates).Methods(http.MethodGet)
	api.HandleFunc("/history/{date}", s.historyDay).Methods(http.MethodGet)
	api.HandleFunc("/history/{date}/summary", s.historySummary).Methods(http.MethodGet)

	if publicDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(publicDir)))
	}

	return r
}
