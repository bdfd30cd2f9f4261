// Package met holds the per-event record and the Cartesian decomposition of
// missing transverse energy
package met

import "math"

// Event is one reconstructed collision event as the pipeline sees it
type Event struct {
	Run             int64
	LuminosityBlock int64
	Pt              float64 // MET magnitude
	Phi             float64 // MET azimuth, radians
	Pileup          float64 // e.g. PV_npvsGood
}

// RunLumi implements golden.Keyed
func (e Event) RunLumi() (int64, int64) { return e.Run, e.LuminosityBlock }

// Components is the Cartesian form of MET
type Components struct {
	X float64
	Y float64
}

// Decompose returns (pt cos phi, pt sin phi)
func Decompose(pt, phi float64) Components {
	s, c := math.Sincos(phi)
	return Components{X: pt * c, Y: pt * s}
}

// Components decomposes the event's MET
func (e Event) Components() Components { return Decompose(e.Pt, e.Phi) }

// Point is the reduced per-event tuple kept for snapshots and histogram fills
type Point struct {
	X      float64 `json:"met_x" msgpack:"met_x" ch:"met_x"`
	Y      float64 `json:"met_y" msgpack:"met_y" ch:"met_y"`
	Pileup float64 `json:"pileup" msgpack:"pileup" ch:"pileup"`
}

// Reduce projects an event to its snapshot point
func (e Event) Reduce() Point {
	c := e.Components()
	return Point{X: c.X, Y: c.Y, Pileup: e.Pileup}
}
