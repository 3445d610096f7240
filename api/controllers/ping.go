package controllers

import (
	"net/http"

	"github.com/angelmondragon/channelcore-backend/api/middleware"
	"github.com/angelmondragon/channelcore-backend/api/responses"
)

func AdminPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"scope": "admin", "status": "ok"}
		if operator := middleware.OperatorIDFromContext(r.Context()); operator != "" {
			payload["operator_id"] = operator
			payload["role"] = middleware.RoleFromContext(r.Context())
		}
		responses.WriteSuccess(w, payload)
	}
}
