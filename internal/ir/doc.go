// Package ir provides the foundational types of the query engine.
//
// This package contains value types, identity hashing and the error
// taxonomy. All other internal packages import ir; ir imports nothing
// internal.
//
// Key design constraints:
//   - no floats in operator arguments; coordinates and thresholds are int64
//   - node and request identity is computed over RFC 8785 canonical JSON
//   - all JSON tags use snake_case
package ir
