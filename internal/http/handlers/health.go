package handlers

import "net/http"

func (api *API) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "PDF Processor API v2.0"})
}

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	report := api.jobsService.Health(r.Context())

	redisState := "connected"
	if state, ok := report.Components["queue"]; ok && state != "connected" {
		redisState = "disconnected"
	}

	response := map[string]any{
		"status":     "healthy",
		"redis":      redisState,
		"components": report.Components,
	}
	if !report.Healthy {
		response["status"] = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (api *API) QueueInfo(w http.ResponseWriter, r *http.Request) {
	info, err := api.jobsService.QueueInfo(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
