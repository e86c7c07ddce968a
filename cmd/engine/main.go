// Command engine demonstrates how the API process (out of scope per section
// 1) wires the record-flow engine (C5-C6): it builds the API-client
// contract implementation, loads the process's flow definitions, and
// exposes a small webhook surface the API calls on every domain event so
// the engine can evaluate flows and dispatch actions.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/radionest/clarinet/apiclient"
	"github.com/radionest/clarinet/common"
	"github.com/radionest/clarinet/engine"
	"github.com/radionest/clarinet/flow"
	"github.com/radionest/clarinet/record"
	"github.com/radionest/clarinet/version"
)

// registerFlows is where a real deployment imports every package that
// builds flow.FlowRecord definitions via init()-time side effects, so the
// flow registry is populated before any event is dispatched.
func registerFlows() {}

type statusChangeEvent struct {
	Record    record.Snapshot `json:"record"`
	OldStatus *string         `json:"old_status,omitempty"`
}

type dataUpdateEvent struct {
	Record record.Snapshot `json:"record"`
}

type entityCreatedEvent struct {
	EntityKind string  `json:"entity_kind"`
	PatientID  string  `json:"patient_id"`
	StudyUID   string  `json:"study_uid"`
	SeriesUID  *string `json:"series_uid,omitempty"`
}

func main() {
	log := logrus.NewEntry(common.NewLogger(common.DefaultLoggerConfig()))
	echoDep := version.GetDependency("github.com/labstack/echo/v4")
	log.WithField("module_version", version.GetModuleVersion()).WithField("echo", echoDep).
		Info("clarinet: engine starting")

	registerFlows()
	if err := flow.ValidateAll(); err != nil {
		log.WithError(err).Fatal("clarinet: flow validation failed")
	}

	apiCfg := apiclient.Config{
		BaseURL:  common.GetEnv("CLARINET_API_BASE_URL", "http://localhost:8000"),
		Username: common.GetEnv("CLARINET_API_USERNAME", ""),
		Password: common.GetEnv("CLARINET_API_PASSWORD", ""),
		Timeout:  15 * time.Second,
	}
	log.WithField("api_password", common.MaskSecret(apiCfg.Password)).Info("clarinet: logging in to engine api")
	client := apiclient.New(apiCfg, log)

	ctx := context.Background()
	if err := client.Login(ctx); err != nil {
		log.WithError(err).Fatal("clarinet: engine api login")
	}

	eng := engine.New(client, log)

	e := echo.New()
	e.HideBanner = true

	e.GET("/version", func(c echo.Context) error { return c.JSON(http.StatusOK, version.GetBuildInfo()) })

	e.POST("/events/status-change", func(c echo.Context) error {
		var ev statusChangeEvent
		if err := c.Bind(&ev); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		eng.HandleRecordStatusChange(c.Request().Context(), ev.Record, ev.OldStatus)
		return c.NoContent(http.StatusAccepted)
	})

	e.POST("/events/data-update", func(c echo.Context) error {
		var ev dataUpdateEvent
		if err := c.Bind(&ev); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		eng.HandleRecordDataUpdate(c.Request().Context(), ev.Record)
		return c.NoContent(http.StatusAccepted)
	})

	e.POST("/events/entity-created", func(c echo.Context) error {
		var ev entityCreatedEvent
		if err := c.Bind(&ev); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		eng.HandleEntityCreated(c.Request().Context(), ev.EntityKind, ev.PatientID, ev.StudyUID, ev.SeriesUID)
		return c.NoContent(http.StatusAccepted)
	})

	if err := e.Start(common.GetEnv("CLARINET_ENGINE_ADDR", ":8091")); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("clarinet: engine webhook server stopped")
	}
}

