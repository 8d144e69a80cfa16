// Package database holds the driver-neutral pieces of geopg: session
// configuration and identity, and SQL text construction with identifier
// quoting. The PostgreSQL/PostGIS session itself lives in the postgres
// subpackage.
package database
