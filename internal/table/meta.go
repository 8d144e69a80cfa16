package table

import "fmt"

// Meta is the provenance attached to every object loaded from or saved to
// the database.
type Meta struct {
	DBMS     string `json:"dbms"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Database string `json:"database"`
	Table    string `json:"table,omitempty"`
	SQL      string `json:"sql,omitempty"`
	RID      int64  `json:"rid,omitempty"` // raster row id, zero when not a raster band
}

// Source returns the storage key: "table" or "table:rid=<rid>" for raster bands.
func (m Meta) Source() string {
	if m.RID != 0 {
		return fmt.Sprintf("%s:rid=%d", m.Table, m.RID)
	}
	return m.Table
}
