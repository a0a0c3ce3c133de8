package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// HealthHandler reports whether the two stores are reachable.
type HealthHandler struct {
	db     *sql.DB
	redis  *redis.Client
	logger *zap.Logger
}

func NewHealthHandler(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		redis:  redisClient,
		logger: logger,
	}
}

// Health GET /tasks/api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := map[string]string{
		"database": "ok",
		"redis":    "ok",
	}
	healthy := true

	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			status["database"] = err.Error()
			healthy = false
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(r.Context()).Err(); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}
	}

	if !healthy {
		h.logger.Warn("Health check failed",
			zap.String("database", status["database"]),
			zap.String("redis", status["redis"]),
		)
		writeJSON(w, http.StatusServiceUnavailable, Fail("unhealthy"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}
