// Package cache implements the disk-resident LRU tier that sits in front of
// the next binary.Provider in the storage chain. Files live in a flat
// directory named by their SHA-1; an in-memory index tracks size and last
// access for each resident file, and a single background cleaner evicts the
// least recently used files once the aggregate size exceeds the budget.
//
// Content only reaches its final path through a rename from a staging file,
// and only after the staged bytes were read to EOF and matched the expected
// checksum, so readers never observe partial or corrupt files. Racing
// populations of the same checksum both succeed; the later one notices the
// existing file and discards its own copy.
package cache
