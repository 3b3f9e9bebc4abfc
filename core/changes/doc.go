// Package changes compares two decoded database snapshots and records the
// differences in an append-only, timestamped change log.
//
// Detection runs in two passes over the post-order flattening of both
// trees. The page pass reports pages present on only one side and runs only
// when the two trees differ in size. The row pass compares every pair of
// cells that share a page number:
//
//	ADDED PAGE '<n>'      page n exists only in the new snapshot
//	REMOVED PAGE '<n>'    page n exists only in the old snapshot
//	ADDED '<value>'       the cell grew and value is new
//	REMOVED '<value>'     the cell shrank and value is gone
//	'<old>' TO '<new>'    same slot count, slot content differs
//
// The last entry of each log item ends with a newline.
package changes
