package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"github.com/transitgo/backend/internal/models"
)

const (
	routeCacheKey = "routes:all"
	routeCacheTTL = 10 * time.Minute
)

// RouteService reads the administrator-managed route network and answers the
// one interesting question in it: which routes carry a passenger between two
// named stops in the direction of travel.
type RouteService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewRouteService(db *sql.DB, redis *redis.Client) *RouteService {
	return &RouteService{db: db, redis: redis}
}

// FindRoutes returns every route that passes through both stop names with the
// origin strictly before the destination in stop order. Reverse-direction
// pairs do not match, and origin == destination matches nothing. Unknown stop
// names simply yield an empty result.
func (s *RouteService) FindRoutes(ctx context.Context, origin, destination string) ([]models.Route, error) {
	if origin == "" || destination == "" || origin == destination {
		return []models.Route{}, nil
	}

	originStops, err := s.stopOccurrences(ctx, origin)
	if err != nil {
		return nil, err
	}
	destStops, err := s.stopOccurrences(ctx, destination)
	if err != nil {
		return nil, err
	}

	// A stop name can occur more than once on a route; any pair with
	// origin order < destination order qualifies, and the route is
	// reported once. Keeping the highest destination order per route makes
	// the pair check a single comparison.
	maxDestOrder := make(map[string]int, len(destStops))
	for _, d := range destStops {
		if cur, ok := maxDestOrder[d.RouteID]; !ok || d.StopOrder > cur {
			maxDestOrder[d.RouteID] = d.StopOrder
		}
	}

	matched := make(map[string]bool)
	var ids []string
	for _, o := range originStops {
		maxDest, ok := maxDestOrder[o.RouteID]
		if !ok || matched[o.RouteID] {
			continue
		}
		if o.StopOrder < maxDest {
			matched[o.RouteID] = true
			ids = append(ids, o.RouteID)
		}
	}

	if len(ids) == 0 {
		return []models.Route{}, nil
	}
	return s.routesByIDs(ctx, ids)
}

// ListRoutes returns all routes ordered by route code, served from redis when
// the cache is warm. Cache failures fall through to Postgres.
func (s *RouteService) ListRoutes(ctx context.Context) ([]models.Route, error) {
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, routeCacheKey).Bytes(); err == nil {
			var routes []models.Route
			if err := json.Unmarshal(data, &routes); err == nil {
				return routes, nil
			}
		}
	}

	routes, err := s.queryRoutes(ctx, `
		SELECT id, route_code, name, start_point, end_point, fare, estimated_time, COALESCE(color, '#7B2CBF'), created_at
		FROM routes
		ORDER BY route_code`)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(routes); err == nil {
			if err := s.redis.Set(ctx, routeCacheKey, data, routeCacheTTL).Err(); err != nil {
				log.Printf("[ROUTES] Cache write failed: %v", err)
			}
		}
	}
	return routes, nil
}

// RouteByID fetches a single route.
func (s *RouteService) RouteByID(ctx context.Context, routeID string) (*models.Route, error) {
	var r models.Route
	err := s.db.QueryRowContext(ctx, `
		SELECT id, route_code, name, start_point, end_point, fare, estimated_time, COALESCE(color, '#7B2CBF'), created_at
		FROM routes
		WHERE id = $1`, routeID).
		Scan(&r.ID, &r.RouteCode, &r.Name, &r.StartPoint, &r.EndPoint, &r.Fare, &r.EstimatedTime, &r.Color, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRouteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read route: %v", ErrStoreUnavailable, err)
	}
	return &r, nil
}

// RouteStops returns a route's stops in travel order.
func (s *RouteService) RouteStops(ctx context.Context, routeID string) ([]models.RouteStop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, route_id, stop_name, stop_order, latitude, longitude, created_at
		FROM route_stops
		WHERE route_id = $1
		ORDER BY stop_order`, routeID)
	if err != nil {
		return nil, fmt.Errorf("%w: list route stops: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var stops []models.RouteStop
	for rows.Next() {
		var st models.RouteStop
		if err := rows.Scan(&st.ID, &st.RouteID, &st.StopName, &st.StopOrder, &st.Latitude, &st.Longitude, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan route stop: %v", ErrStoreUnavailable, err)
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

// ListStops returns the distinct stop names across all routes, sorted, for
// the origin/destination pickers.
func (s *RouteService) ListStops(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT stop_name
		FROM route_stops
		ORDER BY stop_name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list stops: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan stop: %v", ErrStoreUnavailable, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type stopOccurrence struct {
	RouteID   string
	StopOrder int
}

func (s *RouteService) stopOccurrences(ctx context.Context, stopName string) ([]stopOccurrence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT route_id, stop_order
		FROM route_stops
		WHERE stop_name = $1`, stopName)
	if err != nil {
		return nil, fmt.Errorf("%w: stop lookup: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var occ []stopOccurrence
	for rows.Next() {
		var o stopOccurrence
		if err := rows.Scan(&o.RouteID, &o.StopOrder); err != nil {
			return nil, fmt.Errorf("%w: scan stop lookup: %v", ErrStoreUnavailable, err)
		}
		occ = append(occ, o)
	}
	return occ, rows.Err()
}

func (s *RouteService) routesByIDs(ctx context.Context, ids []string) ([]models.Route, error) {
	return s.queryRoutes(ctx, `
		SELECT id, route_code, name, start_point, end_point, fare, estimated_time, COALESCE(color, '#7B2CBF'), created_at
		FROM routes
		WHERE id = ANY($1)
		ORDER BY route_code`, pq.Array(ids))
}

func (s *RouteService) queryRoutes(ctx context.Context, query string, args ...any) ([]models.Route, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list routes: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var routes []models.Route
	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.ID, &r.RouteCode, &r.Name, &r.StartPoint, &r.EndPoint, &r.Fare, &r.EstimatedTime, &r.Color, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan route: %v", ErrStoreUnavailable, err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}
