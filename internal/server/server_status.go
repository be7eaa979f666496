package server

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleStatus(res http.ResponseWriter, req *http.Request) {
	status := Status{Platforms: make(map[string]PlatformStatus)}
	if s.getStatus != nil {
		status = s.getStatus()
	}
	res.Header().Set("content-type", "application/json")
	if err := json.NewEncoder(res).Encode(status); err != nil {
		http.Error(res, err.Error(), http.StatusInternalServerError)
	}
}
