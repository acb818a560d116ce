package router

import (
	"net/http"
)

type healthResponse struct {
	Status            string `json:"status"`
	Storage           string `json:"storage"`
	ActiveGroup       string `json:"activeGroupId"`
	ActiveCredentials int    `json:"activeCredentials"`
	CoolingDown       int    `json:"coolingDown"`
	StatusSubscribers int    `json:"statusSubscribers"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	group := r.pool.ActiveGroup()
	body := healthResponse{
		Status:            "healthy",
		Storage:           "connected",
		ActiveGroup:       group,
		ActiveCredentials: len(r.pool.Credentials(group)),
		CoolingDown:       len(r.cooldown.Active()),
		StatusSubscribers: r.hub.SubscriberCount(),
	}

	code := http.StatusOK
	if !r.health.IsHealthy() {
		body.Status = "unhealthy"
		body.Storage = "not connected"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}
