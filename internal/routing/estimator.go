// Package routing estimates driving distance and time for a courier. It asks
// an OSRM server once and falls back to a great-circle estimate on any
// failure, so Estimate always returns a usable result.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/safar/go-order-delivery/internal/config"
	"github.com/safar/go-order-delivery/internal/logger"
	"github.com/safar/go-order-delivery/internal/models"
)

var errMalformedRoute = errors.New("malformed route response")

type Estimator struct {
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	speedKmh float64
	log      *logger.Logger
}

func NewEstimator(cfg config.RoutingConfig, log *logger.Logger) *Estimator {
	if log == nil {
		log = logger.Nop()
	}
	speed := cfg.AverageSpeedKmh
	if speed <= 0 {
		speed = 40
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Estimator{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   &http.Client{},
		timeout:  timeout,
		speedKmh: speed,
		log:      log,
	}
}

// Estimate returns the provider route, or the haversine fallback. A nil
// origin means the courier's location is unknown and yields an unavailable
// estimate without calling the provider.
func (e *Estimator) Estimate(ctx context.Context, origin *models.Coordinates, dest models.Coordinates) models.RouteEstimate {
	if origin == nil || !validCoordinates(*origin) || !validCoordinates(dest) {
		return models.RouteEstimate{Source: models.RouteSourceUnavailable}
	}

	if e.baseURL != "" {
		estimate, err := e.fetchRoute(ctx, *origin, dest)
		if err == nil {
			return estimate
		}
		e.log.Warn("route_provider_fallback", err, map[string]any{
			"origin":      []float64{origin.Lat, origin.Lng},
			"destination": []float64{dest.Lat, dest.Lng},
		})
	}

	return e.Fallback(*origin, dest)
}

// Fallback is the straight-line estimate at the configured average speed.
func (e *Estimator) Fallback(origin, dest models.Coordinates) models.RouteEstimate {
	km := HaversineKm(origin, dest)

	distance := roundKm(km)
	if origin != dest && distance < 0.1 {
		distance = 0.1
	}

	minutes := ceilMinutes(km / e.speedKmh * 3600)
	if origin != dest && minutes < 1 {
		minutes = 1
	}

	return models.RouteEstimate{
		Source:          models.RouteSourceHaversine,
		DistanceKm:      distance,
		DurationMinutes: minutes,
		Path:            []models.Coordinates{origin, dest},
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// fetchRoute makes exactly one provider call bounded by the estimator timeout.
func (e *Estimator) fetchRoute(ctx context.Context, origin, dest models.Coordinates) (models.RouteEstimate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		e.baseURL, origin.Lng, origin.Lat, dest.Lng, dest.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.RouteEstimate{}, fmt.Errorf("build route request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return models.RouteEstimate{}, fmt.Errorf("route request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.RouteEstimate{}, fmt.Errorf("route provider returned status %d", resp.StatusCode)
	}

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.RouteEstimate{}, fmt.Errorf("%w: %v", errMalformedRoute, err)
	}

	if body.Code != "Ok" || len(body.Routes) == 0 {
		return models.RouteEstimate{}, fmt.Errorf("%w: code %q with %d routes", errMalformedRoute, body.Code, len(body.Routes))
	}

	route := body.Routes[0]
	if route.Distance < 0 || route.Duration < 0 {
		return models.RouteEstimate{}, fmt.Errorf("%w: negative distance or duration", errMalformedRoute)
	}

	path := make([]models.Coordinates, 0, len(route.Geometry.Coordinates))
	for _, point := range route.Geometry.Coordinates {
		path = append(path, models.Coordinates{Lat: point[1], Lng: point[0]})
	}

	return models.RouteEstimate{
		Source:          models.RouteSourceProvider,
		DistanceKm:      roundKm(route.Distance / 1000),
		DurationMinutes: ceilMinutes(route.Duration),
		Path:            path,
	}, nil
}
