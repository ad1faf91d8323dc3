package ins

import (
	"math"

	. "nyiyui.ca/hato/fmu"
)

// GeoRef converts between WGS84 and a flat NED frame around Origin.
// The flat-earth approximation holds for the few kilometres a multicopter covers.
type GeoRef struct {
	Origin GeoPoint
}

const metersPerDegLat = 111_320.0

func (g GeoRef) metersPerDegLon() float64 {
	return metersPerDegLat * math.Cos(g.Origin.Lat*math.Pi/180.0)
}

func (g GeoRef) ToLocal(p GeoPoint) Vec3 {
	return Vec3{
		X: (p.Lat - g.Origin.Lat) * metersPerDegLat,
		Y: (p.Lon - g.Origin.Lon) * g.metersPerDegLon(),
		Z: -(p.Alt - g.Origin.Alt),
	}
}

func (g GeoRef) ToGeo(v Vec3) GeoPoint {
	return GeoPoint{
		Lat: g.Origin.Lat + v.X/metersPerDegLat,
		Lon: g.Origin.Lon + v.Y/g.metersPerDegLon(),
		Alt: g.Origin.Alt - v.Z,
	}
}

// PressureAltitude is the standard-atmosphere altitude in metres for a
// static pressure in pascals.
func PressureAltitude(pa float64) float64 {
	return 44330.77 * (1 - math.Pow(pa/101325, 0.190263))
}

// AltitudePressure inverts PressureAltitude.
func AltitudePressure(alt float64) float64 {
	return 101325 * math.Pow(1-alt/44330.77, 1/0.190263)
}

// baroRef turns pressure into height above the first sample. offset follows
// GPS altitude slowly while GPS is healthy, to absorb pressure drift.
type baroRef struct {
	set    bool
	ref    float64
	offset float64
	last   float64
}

func (b *baroRef) altitude(pa float64) float64 {
	alt := PressureAltitude(pa)
	if !b.set {
		b.set = true
		b.ref = alt
	}
	b.last = alt - b.ref
	return b.last + b.offset
}

const baroOffsetGain = 0.01

func (b *baroRef) anchor(gpsAlt float64) {
	if !b.set {
		return
	}
	b.offset += baroOffsetGain * (gpsAlt - (b.last + b.offset))
}
