// Package btree decodes the table and index B-tree pages of a SQLite
// database into an in-memory tree that mirrors the on-disk page hierarchy.
//
// Each page becomes one Node holding one Cell, which carries per-slot row
// IDs, payload sizes, child pointers and textual previews of the decoded
// records. Payloads that spill past the local limit are reassembled from
// their overflow chains.
package btree
