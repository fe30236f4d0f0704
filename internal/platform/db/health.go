package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// healthPingTimeout bounds the liveness ping so a wedged database cannot
// stall the health probe.
const healthPingTimeout = 5 * time.Second

// PoolStats is a point-in-time snapshot of the connection pool, reported
// alongside the database health status.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

func snapshotStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireCount:  stat.AcquireCount(),
	}
}

// healthResponse maps a ping outcome onto the status code and body served
// by the health endpoint.
func healthResponse(stats PoolStats, pingErr error) (int, map[string]any) {
	if pingErr != nil {
		return http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  pingErr.Error(),
			"pool":   stats,
		}
	}
	return http.StatusOK, map[string]any{
		"status": "healthy",
		"pool":   stats,
	}
}

// HealthHandler serves the database health endpoint: a short ping plus
// pool statistics.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		code, body := healthResponse(snapshotStats(pool), pool.Ping(ctx))
		return c.JSON(code, body)
	}
}
