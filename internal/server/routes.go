package server

import (
	"errors"
	"net/http"

	"github.com/berfenger/marshal/internal/agent"
	"github.com/berfenger/marshal/internal/dispatch"
	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type DeviceStatus struct {
	Type         string `json:"type"`
	Manufacturer string `json:"manufacturer"`
	ModelNumber  string `json:"modelNumber"`
	SerialNumber string `json:"serialNumber"`
	Family       string `json:"family"`
}

type StatusResponse struct {
	Version   string                `json:"version"`
	Healthy   bool                  `json:"healthy"`
	Device    DeviceStatus          `json:"device"`
	LastCycle *dispatch.CycleReport `json:"lastCycle,omitempty"`
}

type CycleResponse struct {
	Report *dispatch.CycleReport `json:"report,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.StatusHandler)
	e.POST("/cycle", s.CycleHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	if s.agent.Healthy() {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StatusHandler(c echo.Context) error {
	hw := s.agent.Hardware()
	last, _ := s.agent.LastReport()
	return c.JSON(http.StatusOK, StatusResponse{
		Version: versioninfo.Short(),
		Healthy: s.agent.Healthy(),
		Device: DeviceStatus{
			Type:         hw.Type,
			Manufacturer: hw.Manufacturer,
			ModelNumber:  hw.ModelNumber,
			SerialNumber: hw.SerialNumber,
			Family:       s.agent.Family().String(),
		},
		LastCycle: last,
	})
}

// CycleHandler runs a cycle now, outside the schedule.
func (s *Server) CycleHandler(c echo.Context) error {
	report, err := s.agent.TryRunOnce(c.Request().Context())
	if errors.Is(err, agent.ErrCycleInProgress) {
		return c.JSON(http.StatusConflict, CycleResponse{Error: err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusBadGateway, CycleResponse{Report: report, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, CycleResponse{Report: report})
}
