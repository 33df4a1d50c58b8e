package handlers

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {

		// public routes here
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/games", h.ListGamesHandler)
			r.Get("/games/{id}", h.GetGameHandler)
			r.Get("/games/{id}/metrics", h.MetricsHandler)
			r.Get("/games/{id}/history", h.HistoryHandler)
		})
	})
}

func (h *Handler) InitAuth(secret string) {
	h.tokenAuth = jwtauth.New("HS256", []byte(secret), nil)

	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	expirationTime := time.Now().Add(24 * time.Hour).Unix()
	_, tokenString, err := h.tokenAuth.Encode(map[string]interface{}{
		"service_id": h.service,
		"exp":        expirationTime,
	})
	if err != nil {
		log.Warnf("unable to issue debug token: %s", err)
		return
	}
	log.Debugf("DEBUG: JWT for testing, expires in 24h: %s", tokenString)
}
