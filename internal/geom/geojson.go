package geom

import (
	"encoding/json"
	"strconv"

	"github.com/koustreak/geopg/internal/errs"
	gogeom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// GeoJSON renders the layer as a FeatureCollection. Attribute values become
// feature properties; invalid shapes are written with a null geometry.
func GeoJSON(s *Shapes) ([]byte, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(s.Shapes))}

	for i, sh := range s.Shapes {
		var g gogeom.T
		if sh.IsValid(s.Type) {
			var err error
			if g, err = toGeom(s.Type, s.Vertex, sh.Parts); err != nil {
				return nil, err
			}
		}

		props := make(map[string]any, len(s.Fields))
		for j, f := range s.Fields {
			if j < len(sh.Record) {
				props[f.Name] = sh.Record[j]
			}
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.Itoa(i + 1),
			Geometry:   g,
			Properties: props,
		})
	}

	b, err := json.Marshal(fc)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "geojson encoding failed", err)
	}
	return b, nil
}
