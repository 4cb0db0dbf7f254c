package models

import "time"

// Route is an administrator-managed transit line. The booking core treats
// routes as read-only; fare is in the smallest currency unit.
type Route struct {
	ID            string    `json:"id" db:"id"`
	RouteCode     string    `json:"route_code" db:"route_code"`
	Name          string    `json:"name" db:"name"`
	StartPoint    string    `json:"start_point" db:"start_point"`
	EndPoint      string    `json:"end_point" db:"end_point"`
	Fare          int64     `json:"fare" db:"fare"`
	EstimatedTime int       `json:"estimated_time" db:"estimated_time"` // minutes
	Color         string    `json:"color" db:"color"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// RouteStop is one named stop on a route. StopOrder ascends in the direction
// of travel and is unique within a route; the same stop name may appear on
// several routes.
type RouteStop struct {
	ID        string    `json:"id" db:"id"`
	RouteID   string    `json:"route_id" db:"route_id"`
	StopName  string    `json:"stop_name" db:"stop_name"`
	StopOrder int       `json:"stop_order" db:"stop_order"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
