package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rdmaulana/fcm-notification-service/internal/models"
	"github.com/rdmaulana/fcm-notification-service/pkg/metrics"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

const healthTimeout = 3 * time.Second

// DeliveryFinder looks a delivery record up by identifier.
type DeliveryFinder interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.DeliveryRecord, error)
}

// Options wires the router's collaborators. Deliveries may be nil.
type Options struct {
	Name       string
	Metrics    *metrics.Metrics
	Checks     []HealthCheck
	Deliveries DeliveryFinder
	Logger     *slog.Logger
	Started    time.Time
}

// NewRouter exposes health, metrics and delivery diagnostics so the service
// can be monitored.
func NewRouter(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    opts.Name,
			"version": Version,
			"endpoints": gin.H{
				"health":     "/health",
				"metrics":    "/metrics",
				"deliveries": "/deliveries/:identifier",
			},
		})
	})
	router.GET("/health", healthHandler(opts))
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	if opts.Deliveries != nil {
		router.GET("/deliveries/:identifier", deliveryHandler(opts))
	}
	return router
}

func healthHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := runChecks(c.Request.Context(), opts.Checks, healthTimeout)

		healthy := true
		services := make(gin.H, len(report))
		details := gin.H{}
		for name, h := range report {
			services[name] = h.Status
			if !h.Healthy {
				healthy = false
				if h.Error != "" {
					details[name] = h.Error
				}
			}
		}

		body := gin.H{
			"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
			"uptime_seconds": int(time.Since(opts.Started).Seconds()),
			"services":       services,
		}
		if healthy {
			body["status"] = "healthy"
			c.JSON(http.StatusOK, body)
			return
		}
		body["status"] = "unhealthy"
		body["details"] = details
		c.JSON(http.StatusServiceUnavailable, body)
	}
}

func deliveryHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := c.Param("identifier")
		rec, err := opts.Deliveries.FindByIdentifier(c.Request.Context(), identifier)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Error("delivery lookup failed",
					slog.String("identifier", identifier),
					slog.Any("error", err),
				)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "delivery not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"identifier": rec.Identifier,
			"deliverAt":  models.FormatTimestamp(rec.DeliverAt),
			"createdAt":  models.FormatTimestamp(rec.CreatedAt),
		})
	}
}
