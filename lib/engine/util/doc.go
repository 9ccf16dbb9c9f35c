// Package util provides the statistical helpers behind Engine.Info:
// a bucketed histogram of stored value sizes (fed from sampled memtable
// scans, so estimates stay cheap regardless of table size) and a spread
// summary describing how evenly the memory budget is distributed across
// tables.
package util
