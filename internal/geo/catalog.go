// Package geo loads the Census ZCTA shapefile into an in-memory catalog
// used to validate assigned unit codes and backfill missing region codes.
package geo

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Unit is one catalog entry: a ZCTA code with its region and centroid.
type Unit struct {
	Code   string
	Region string
	Lon    float64
	Lat    float64
}

// Catalog is the loaded ZCTA roster, keyed by unit code.
type Catalog struct {
	units map[string]Unit
}

// LoadCatalog reads a ZCTA shapefile. Region comes from the STATEFP or
// STUSPS attribute when the product carries one; national ZCTA files do
// not, and those entries are left with an empty region.
func LoadCatalog(path string) (*Catalog, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer reader.Close() //nolint:errcheck

	codeIdx := fieldIndex(reader, "ZCTA5CE20")
	if codeIdx < 0 {
		codeIdx = fieldIndex(reader, "ZCTA5CE10")
	}
	if codeIdx < 0 {
		return nil, eris.Errorf("geo: shapefile %s has no ZCTA code field", path)
	}
	stateIdx := fieldIndex(reader, "STUSPS")
	fipsIdx := fieldIndex(reader, "STATEFP")

	cat := &Catalog{units: make(map[string]Unit)}
	for reader.Next() {
		_, shape := reader.Shape()

		code := strings.TrimSpace(reader.Attribute(codeIdx))
		if code == "" {
			continue
		}

		u := Unit{Code: code}
		if stateIdx >= 0 {
			u.Region = strings.TrimSpace(reader.Attribute(stateIdx))
		} else if fipsIdx >= 0 {
			u.Region = fipsToUSPS[strings.TrimSpace(reader.Attribute(fipsIdx))]
		}
		if poly, ok := shape.(*shp.Polygon); ok {
			u.Lon, u.Lat = centroid(poly)
		}
		cat.units[code] = u
	}

	zap.L().Info("zcta catalog loaded",
		zap.String("path", path),
		zap.Int("units", len(cat.units)),
	)
	return cat, nil
}

// Lookup returns the catalog entry for a unit code.
func (c *Catalog) Lookup(code string) (Unit, bool) {
	u, ok := c.units[code]
	return u, ok
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int { return len(c.units) }

func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// centroid computes the areal centroid of the polygon's outer ring.
func centroid(p *shp.Polygon) (lon, lat float64) {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return 0, 0
	}

	end := len(p.Points)
	if p.NumParts > 1 {
		end = int(p.Parts[1])
	}

	flat := make([]float64, 0, end*2)
	for _, pt := range p.Points[:end] {
		flat = append(flat, pt.X, pt.Y)
	}
	ring := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})

	c, err := xy.Centroid(ring)
	if err != nil || len(c) < 2 {
		return p.Points[0].X, p.Points[0].Y
	}
	return c[0], c[1]
}

// fipsToUSPS maps state FIPS codes to USPS abbreviations.
var fipsToUSPS = map[string]string{
	"01": "AL", "02": "AK", "04": "AZ", "05": "AR", "06": "CA",
	"08": "CO", "09": "CT", "10": "DE", "11": "DC", "12": "FL",
	"13": "GA", "15": "HI", "16": "ID", "17": "IL", "18": "IN",
	"19": "IA", "20": "KS", "21": "KY", "22": "LA", "23": "ME",
	"24": "MD", "25": "MA", "26": "MI", "27": "MN", "28": "MS",
	"29": "MO", "30": "MT", "31": "NE", "32": "NV", "33": "NH",
	"34": "NJ", "35": "NM", "36": "NY", "37": "NC", "38": "ND",
	"39": "OH", "40": "OK", "41": "OR", "42": "PA", "44": "RI",
	"45": "SC", "46": "SD", "47": "TN", "48": "TX", "49": "UT",
	"50": "VT", "51": "VA", "53": "WA", "54": "WV", "55": "WI",
	"56": "WY", "72": "PR", "78": "VI",
}
