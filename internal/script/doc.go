// Package script evaluates calculated columns.
//
// A calculated column is a short Lua chunk run once per row. Scripts see a
// restricted standard library (base without loaders or I/O, math, string,
// table) and one accessor, value_of(column), that reads the current row.
// Every evaluation runs under a hard instruction budget enforced inside the
// interpreter loop; a script that exceeds it is aborted.
package script
