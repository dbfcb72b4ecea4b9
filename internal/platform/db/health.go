package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireCount  int64  `json:"acquire_count"`
	AcquireTime   string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireCount:  stat.AcquireCount(),
		AcquireTime:   stat.AcquireDuration().String(),
	}
}

// Check is an optional dependency check reported by HealthHandler.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type healthReport struct {
	Status     string            `json:"status"`
	Pool       *PoolStats        `json:"pool,omitempty"`
	Components map[string]string `json:"components"`
}

// HealthHandler pings Postgres and every extra check. Any failure turns the
// response into a 503.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		all := checks
		if pool != nil {
			all = append([]Check{{Name: "postgres", Ping: pool.Ping}}, checks...)
		}
		report := runChecks(ctx, all)
		if pool != nil {
			stats := GetPoolStats(pool)
			report.Pool = &stats
		}

		code := http.StatusOK
		if report.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, report)
	}
}

func runChecks(ctx context.Context, checks []Check) healthReport {
	report := healthReport{Status: "healthy", Components: make(map[string]string, len(checks))}
	for _, chk := range checks {
		if err := chk.Ping(ctx); err != nil {
			report.Status = "unhealthy"
			report.Components[chk.Name] = err.Error()
			continue
		}
		report.Components[chk.Name] = "ok"
	}
	return report
}
