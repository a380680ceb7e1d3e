// Package params declares runner parameters and validates candidate values.
//
// A Schema pairs display metadata with one Type variant. Types form a closed
// set (StringType, IntType, FloatType, BoolType, SelectionType,
// MultiSelectionType, FilePathType); validation never panics and never
// touches the filesystem.
package params
