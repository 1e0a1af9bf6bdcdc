package controller

import (
	"net/http"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := c.App.DB.Pool.Ping(ctx); err != nil {
		c.writeError(w, http.StatusInternalServerError, "errored", "database connection error")
		return
	}

	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			c.writeError(w, http.StatusInternalServerError, "errored", "redis connection error")
			return
		}
	}

	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
