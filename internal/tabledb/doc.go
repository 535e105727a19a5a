// Package tabledb provides an embedded, single-file, typed key-value store.
//
// # Overview
//
// A [Database] is a named set of [Table] values bound to one file. Each table
// has a fixed list of [Column] definitions and stores [Row] values under
// string [Key] values, kept in ascending key order.
//
// Every successful mutation made through the Database (create or drop a
// table, insert, update or delete a row) re-encodes the whole database and
// replaces the file. Reads never touch the disk.
//
// # Concurrency
//
// Nothing in this package is safe for concurrent use. Callers serialize
// access to a Database and must not share its file between processes.
//
// # File Format
//
// See [BinaryCodec]. The file is written to a temporary sibling and renamed
// into place, so readers see either the previous or the new content.
package tabledb
