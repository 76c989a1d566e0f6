package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/panel-one/internal/api/handler"
)

const healthTimeout = 2 * time.Second

// HealthChecker is a dependency checked by /health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options configures the non-job routes
type Options struct {
	ServiceName   string
	BlobDir       string
	BlobServePath string
	RateLimiter   *RateLimiter
	HealthChecks  map[string]HealthChecker
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(opts))

	// Artifacts live on the shared blob volume; serve them for result_url consumers.
	if opts.BlobDir != "" && opts.BlobServePath != "" {
		r.Static(opts.BlobServePath, opts.BlobDir)
	}

	jobHandler := handler.NewJobHandler(deps)

	submit := []gin.HandlerFunc{jobHandler.Generate}
	if opts.RateLimiter != nil {
		submit = append([]gin.HandlerFunc{RateLimitMiddleware(opts.RateLimiter)}, submit...)
	}

	// POST /generate - submit 1..8 images
	r.POST("/generate", submit...)

	// GET /job/:job_id - status snapshot
	r.GET("/job/:job_id", jobHandler.GetJob)

	// GET /ws/:job_id - status change stream
	r.GET("/ws/:job_id", jobHandler.StreamJob)

	return r
}

func healthHandler(opts Options) gin.HandlerFunc {
	service := opts.ServiceName
	if service == "" {
		service = "panel-api-service"
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		checks := make(map[string]string, len(opts.HealthChecks))
		healthy := true
		for name, checker := range opts.HealthChecks {
			if err := checker.HealthCheck(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": service,
			"checks":  checks,
		})
	}
}
