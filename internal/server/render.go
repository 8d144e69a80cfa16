package server

import (
	"encoding/json"
	"net/http"

	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/geom"
	"github.com/koustreak/geopg/internal/raster"
	"github.com/koustreak/geopg/internal/table"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, statusOf(kind), errorBody{Error: err.Error(), Kind: kind.String()})
}

func statusOf(kind errs.ErrKind) int {
	switch kind {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidInput, errs.ErrKindQueryFailed:
		return http.StatusBadRequest
	case errs.ErrKindAlreadyExists, errs.ErrKindInvalidState:
		return http.StatusConflict
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindDataShape, errs.ErrKindPartial:
		return http.StatusUnprocessableEntity
	case errs.ErrKindConnectionFailed:
		return http.StatusBadGateway
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func newResultTable() *table.Table {
	return table.New("result")
}

type fieldJSON struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Width int    `json:"width,omitempty"`
}

type tableBody struct {
	Name    string         `json:"name"`
	Fields  []fieldJSON    `json:"fields"`
	Records []table.Record `json:"records"`
	Meta    table.Meta     `json:"meta"`
}

// tableJSON flattens t for a response. Binary cells encode as base64.
func tableJSON(t *table.Table) tableBody {
	body := tableBody{Name: t.Name, Fields: make([]fieldJSON, len(t.Fields)), Records: t.Records, Meta: t.Meta}
	for i, f := range t.Fields {
		body.Fields[i] = fieldJSON{Name: f.Name, Type: f.Type.String(), Width: f.Width}
	}
	if body.Records == nil {
		body.Records = []table.Record{}
	}
	return body
}

func writeGeoJSON(w http.ResponseWriter, s *geom.Shapes) error {
	b, err := geom.GeoJSON(s)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
	return nil
}

type gridJSON struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	NX       int        `json:"nx"`
	NY       int        `json:"ny"`
	CellSize float64    `json:"cellsize"`
	XMin     float64    `json:"xmin"`
	YMin     float64    `json:"ymin"`
	SRID     int        `json:"srid"`
	NoData   *float64   `json:"nodata,omitempty"`
	Values   []float64  `json:"values,omitempty"`
	Meta     table.Meta `json:"meta"`
}

// newGridJSON describes g; cell values are included only on request.
func newGridJSON(g *raster.Grid, values bool) gridJSON {
	out := gridJSON{
		Name:     g.Name,
		Type:     g.Type.String(),
		NX:       g.NX,
		NY:       g.NY,
		CellSize: g.CellSize,
		XMin:     g.XMin,
		YMin:     g.YMin,
		SRID:     g.SRID,
		Meta:     g.Meta,
	}
	if g.HasNoData {
		nd := g.NoData
		out.NoData = &nd
	}
	if values {
		out.Values = g.Values
	}
	return out
}
