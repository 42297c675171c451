package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mboers/homestore/events"
	"github.com/mboers/homestore/storage"
	"github.com/mboers/homestore/stores"
)

type JSON map[string]interface{}

const maxDataPoints = 10000

func RegisterApiHandlers(g *echo.Group, version string, seriesStore *stores.SeriesStore, jobStore *stores.JobStore) {
	v1 := g.Group("/v1")
	v1.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, JSON{
			"message": "Hello, world! Welcome to the HomeStore API!",
			"version": version,
		})
	})

	v1.GET("/readings", func(c echo.Context) error {
		ids := seriesStore.List()
		return c.JSON(http.StatusOK, JSON{
			"readings": ids,
			"count":    len(ids),
		})
	})

	v1.GET("/data", func(c echo.Context) error {
		ids := c.Request().URL.Query()["reading"]
		if len(ids) == 0 {
			return c.JSON(http.StatusBadRequest, JSON{
				"error": "at least one reading parameter is required",
			})
		}

		readings := make([]events.Reading, len(ids))
		for i, id := range ids {
			r, err := events.ParseReadingID(id)
			if err != nil {
				return c.JSON(http.StatusBadRequest, JSON{
					"error": err.Error(),
				})
			}
			readings[i] = r
		}

		start, err := millisParam(c, "start", 0)
		if err != nil {
			return c.JSON(http.StatusBadRequest, JSON{"error": err.Error()})
		}
		end, err := millisParam(c, "end", time.Now().UnixMilli())
		if err != nil {
			return c.JSON(http.StatusBadRequest, JSON{"error": err.Error()})
		}

		n := 100
		if raw := c.QueryParam("n"); raw != "" {
			n, err = strconv.Atoi(raw)
			if err != nil || n < 1 {
				return c.JSON(http.StatusBadRequest, JSON{
					"error": "n must be a positive integer",
				})
			}
			if n > maxDataPoints {
				n = maxDataPoints
			}
		}

		times, columns, err := seriesStore.Read(readings,
			time.UnixMilli(start), time.UnixMilli(end), n)
		if storage.IsRangeMiss(err) || errors.Is(err, stores.ErrNotInStore) {
			// nothing stored in the window is a valid answer, not a failure
			return c.JSON(http.StatusOK, emptyData(ids))
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, JSON{
				"error": err.Error(),
			})
		}

		millis := make([]int64, len(times))
		for i, t := range times {
			millis[i] = t.UnixMilli()
		}
		values := make(map[string][]float32, len(ids))
		for i, id := range ids {
			values[id] = columns[i]
		}
		return c.JSON(http.StatusOK, JSON{
			"ts":     millis,
			"values": values,
			"count":  len(millis),
		})
	})

	type jobRequest struct {
		Time       int64  `json:"time"`
		Kind       string `json:"kind"`
		Room       string `json:"room"`
		Expiration string `json:"expiration,omitempty"`
	}

	v1.POST("/jobs", func(c echo.Context) error {
		var req jobRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, JSON{"error": err.Error()})
		}

		kind, err := events.ParseEventKind(req.Kind)
		if err != nil {
			return c.JSON(http.StatusBadRequest, JSON{"error": err.Error()})
		}

		var expiration time.Duration
		if req.Expiration != "" {
			expiration, err = time.ParseDuration(req.Expiration)
			if err != nil || expiration < 0 {
				return c.JSON(http.StatusBadRequest, JSON{
					"error": "expiration must be a non-negative duration",
				})
			}
		}

		key, err := jobStore.Add(stores.Job{
			Time:       time.UnixMilli(req.Time),
			Event:      events.Event{Kind: kind, Room: req.Room},
			Expiration: expiration,
		})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, JSON{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, JSON{"key": key})
	})

	v1.GET("/jobs", func(c echo.Context) error {
		keys, jobs, err := jobStore.List()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, JSON{"error": err.Error()})
		}

		type listedJob struct {
			Key int64      `json:"key"`
			Job stores.Job `json:"job"`
		}
		listed := make([]listedJob, len(jobs))
		for i := range jobs {
			listed[i] = listedJob{Key: keys[i], Job: jobs[i]}
		}
		return c.JSON(http.StatusOK, JSON{
			"jobs":  listed,
			"count": len(listed),
		})
	})

	v1.GET("/jobs/:key", func(c echo.Context) error {
		key, err := strconv.ParseInt(c.Param("key"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, JSON{"error": "key must be an integer"})
		}

		job, err := jobStore.Get(key)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, JSON{"error": err.Error()})
		}
		if job == nil {
			return c.JSON(http.StatusNotFound, JSON{"error": "no job under this key"})
		}
		return c.JSON(http.StatusOK, JSON{"job": job})
	})

	v1.DELETE("/jobs/:key", func(c echo.Context) error {
		key, err := strconv.ParseInt(c.Param("key"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, JSON{"error": "key must be an integer"})
		}

		removed, err := jobStore.Remove(key)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, JSON{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, JSON{"removed": removed})
	})
}

func millisParam(c echo.Context, name string, fallback int64) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New(name + " must be unix milliseconds")
	}
	return ms, nil
}

func emptyData(ids []string) JSON {
	values := make(map[string][]float32, len(ids))
	for _, id := range ids {
		values[id] = []float32{}
	}
	return JSON{
		"ts":     []int64{},
		"values": values,
		"count":  0,
	}
}
