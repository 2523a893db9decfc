package httpapi

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

var validate = validator.New()

// Reader is the read side of the store the API exposes.
type Reader interface {
	ListSnapshots(ctx context.Context) ([]weather.CurrentSnapshot, error)
	ListHourly(ctx context.Context) ([]weather.HourlySummary, error)
	ListDaily(ctx context.Context) ([]weather.DailySummary, error)
	ListAnomalies(ctx context.Context, alertsOnly bool) ([]weather.AnomalyRecord, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service, reader Reader) {
	v1 := app.Group("/api/v1")

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		q, err := parseCityQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshot, err := service.GetLatest(c.UserContext(), q.City)
		if err != nil {
			if errors.Is(err, weather.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather data for requested city")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
		}

		return c.JSON(snapshot)
	})

	v1.Get("/weather/current/all", func(c *fiber.Ctx) error {
		snapshots, err := reader.ListSnapshots(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
		}
		return c.JSON(snapshots)
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		q, err := parseCityQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		records, err := service.History(c.UserContext(), q.City)
		if err != nil {
			if errors.Is(err, weather.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather history for requested city")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}

		return c.JSON(fiber.Map{
			"city":    q.City,
			"records": records,
		})
	})

	v1.Get("/summaries/daily", func(c *fiber.Ctx) error {
		var q summaryQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rows, err := reader.ListDaily(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch daily summaries")
		}
		out := make([]weather.DailySummary, 0, len(rows))
		for _, r := range rows {
			if q.matches(r.City, r.Date) {
				out = append(out, r)
			}
		}
		return c.JSON(out)
	})

	v1.Get("/summaries/hourly", func(c *fiber.Ctx) error {
		var q summaryQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rows, err := reader.ListHourly(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch hourly summaries")
		}
		out := make([]weather.HourlySummary, 0, len(rows))
		for _, r := range rows {
			if q.matches(r.City, r.Date) {
				out = append(out, r)
			}
		}
		return c.JSON(out)
	})

	v1.Get("/anomalies", func(c *fiber.Ctx) error {
		var q summaryQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		alertsOnly, err := strconv.ParseBool(c.Query("alerts", "false"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "alerts must be a boolean")
		}

		rows, err := reader.ListAnomalies(c.UserContext(), alertsOnly)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch anomalies")
		}
		out := make([]weather.AnomalyRecord, 0, len(rows))
		for _, r := range rows {
			if q.matches(r.City, r.Date) {
				out = append(out, r)
			}
		}
		return c.JSON(out)
	})
}

// cityQuery holds the query parameter identifying a city.
type cityQuery struct {
	City string `validate:"required"`
}

func parseCityQuery(c *fiber.Ctx) (cityQuery, error) {
	q := cityQuery{City: c.Query("city")}
	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// summaryQuery holds the optional filters of the summary and anomaly endpoints.
type summaryQuery struct {
	City string
	Date string `validate:"omitempty,datetime=2006-01-02"`
}

func (s *summaryQuery) bind(c *fiber.Ctx) error {
	s.City = c.Query("city")
	s.Date = c.Query("date")
	return validate.Struct(s)
}

func (s summaryQuery) matches(city, date string) bool {
	if s.City != "" && s.City != city {
		return false
	}
	if s.Date != "" && s.Date != date {
		return false
	}
	return true
}
