// Package store implements the interval store and metadata registry on
// SQLite.
//
// Regions are read in (chromosome, start, end) order using keyset
// pagination: each page is a short query that is fully drained before the
// next one starts, so many lazy iterators can be open at once over a single
// connection.
package store
