/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package track turns raw channel and kilometer readings into positions along
// a legacy route and answers geometry questions about them. Positions are
// meters along the line and grow in the direction of travel.
package track

import (
	"math"
	"sort"
	"time"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/internal/refdata"
	"github.com/pigwatch/pigwatch/model"
)

// Config carries the geometry and speed tunables.
type Config struct {
	MetersPerChannel float64
	POITolMeters     float64
	StoppedWindow    time.Duration
	SpeedWindow      time.Duration
	SpeedShortWindow time.Duration
	MovingBoost      time.Duration
	MinSpeedDt       time.Duration
	SpeedSearch      time.Duration
}

// DefaultConfig mirrors the engine defaults of the configuration file.
func DefaultConfig() Config {
	return Config{
		MetersPerChannel: 25,
		POITolMeters:     50,
		StoppedWindow:    5 * time.Minute,
		SpeedWindow:      25 * time.Minute,
		SpeedShortWindow: 5 * time.Minute,
		MovingBoost:      10 * time.Minute,
		MinSpeedDt:       2 * time.Minute,
		SpeedSearch:      35 * time.Minute,
	}
}

// ConfigFrom converts the engine section of the configuration.
func ConfigFrom(e config.EngineConfig) Config {
	return Config{
		MetersPerChannel: float64(e.MetersPerChannel),
		POITolMeters:     float64(e.POITolMeters),
		StoppedWindow:    config.Seconds(e.StoppedWindowSec),
		SpeedWindow:      config.Seconds(e.SpeedWindowSec),
		SpeedShortWindow: config.Seconds(e.SpeedShortWindowSec),
		MovingBoost:      config.Seconds(e.MovingBoostSec),
		MinSpeedDt:       config.Seconds(e.MinSpeedDtSec),
		SpeedSearch:      config.Seconds(e.SpeedSearchSec),
	}
}

// Network is the immutable route geometry built from reference data.
type Network struct {
	cfg    Config
	gcToKP map[int]float64
	pois   []model.POI
	routes map[string][]model.POI
	names  []string
}

func NewNetwork(ref *refdata.Reference, cfg Config) *Network {
	n := &Network{cfg: cfg, gcToKP: map[int]float64{}, routes: map[string][]model.POI{}}
	if ref == nil {
		return n
	}
	for gc, kp := range ref.GCtoKP {
		n.gcToKP[gc] = kp
	}
	n.pois = append(n.pois, ref.POIs...)
	for _, p := range n.pois {
		n.routes[p.Route] = append(n.routes[p.Route], p)
	}
	for name, route := range n.routes {
		sortRoute(route)
		n.names = append(n.names, name)
	}
	sort.Strings(n.names)
	return n
}

// sortRoute orders POIs by KP, then channel, then tag; missing values sort last.
func sortRoute(route []model.POI) {
	sort.SliceStable(route, func(i, j int) bool {
		a, b := route[i], route[j]
		if (a.KP == nil) != (b.KP == nil) {
			return a.KP != nil
		}
		if a.KP != nil && *a.KP != *b.KP {
			return *a.KP < *b.KP
		}
		if (a.GlobalChannel == nil) != (b.GlobalChannel == nil) {
			return a.GlobalChannel != nil
		}
		if a.GlobalChannel != nil && *a.GlobalChannel != *b.GlobalChannel {
			return *a.GlobalChannel < *b.GlobalChannel
		}
		return a.Tag < b.Tag
	})
}

func (n *Network) Config() Config {
	return n.cfg
}

// Routes returns the route names, sorted.
func (n *Network) Routes() []string {
	return n.names
}

// Route returns the ordered POIs of a route.
func (n *Network) Route(name string) []model.POI {
	return n.routes[name]
}

// PositionM resolves a point to meters: KP first, then the channel table, then
// the channel times the nominal channel length.
func (n *Network) PositionM(p model.TelemetryPoint) (float64, bool) {
	return n.position(p.KP, p.GlobalChannel)
}

func (n *Network) POIPositionM(p model.POI) (float64, bool) {
	return n.position(p.KP, p.GlobalChannel)
}

func (n *Network) position(kp *float64, gc *int) (float64, bool) {
	if kp != nil {
		return *kp * 1000, true
	}
	if gc != nil {
		if v, ok := n.gcToKP[*gc]; ok {
			return v * 1000, true
		}
		return float64(*gc) * n.cfg.MetersPerChannel, true
	}
	return 0, false
}

func (n *Network) routeRange(route []model.POI) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range route {
		m, has := n.POIPositionM(p)
		if !has {
			continue
		}
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
		ok = true
	}
	return lo, hi, ok
}

// PickRoute chooses the shortest route whose extent, widened by the POI
// tolerance, contains posM. Without such a route the route of the nearest
// POI is used. It returns false when no POI has a position.
func (n *Network) PickRoute(posM float64) (string, bool) {
	tol := n.cfg.POITolMeters
	best, bestSpan := "", math.Inf(1)
	for _, name := range n.names {
		lo, hi, ok := n.routeRange(n.routes[name])
		if !ok || posM < lo-tol || posM > hi+tol {
			continue
		}
		if span := hi - lo; span < bestSpan {
			best, bestSpan = name, span
		}
	}
	if best != "" {
		return best, true
	}

	bestDist := math.Inf(1)
	for _, p := range n.pois {
		m, ok := n.POIPositionM(p)
		if !ok {
			continue
		}
		if d := math.Abs(posM - m); d < bestDist {
			best, bestDist = p.Route, d
		}
	}
	return best, best != ""
}

// Neighbours returns the last POI at or behind posM, the first POI ahead of it
// and the terminal POI of the route. A POI within tolerance counts as behind.
func (n *Network) Neighbours(route string, posM float64) (prev, next, end *model.POI) {
	pois := n.routes[route]
	tol := n.cfg.POITolMeters
	for i := range pois {
		m, ok := n.POIPositionM(pois[i])
		if !ok {
			continue
		}
		end = &pois[i]
		if m <= posM+tol {
			prev = &pois[i]
		} else if next == nil {
			next = &pois[i]
		}
	}
	return prev, next, end
}

// End returns the terminal POI of a route, the last one that has a position.
func (n *Network) End(route string) (*model.POI, bool) {
	_, _, end := n.Neighbours(route, math.Inf(-1))
	return end, end != nil
}

// Reached reports whether posM is at or beyond poi, within tolerance.
func (n *Network) Reached(posM float64, poi model.POI) bool {
	m, ok := n.POIPositionM(poi)
	if !ok {
		return false
	}
	return posM >= m-n.cfg.POITolMeters
}
