// Package staging provides the temp-file sink used while relaying a binary
// between storage tiers. A staging File records every byte read through its
// Tee reader to a temp file that lives on the same filesystem as its final
// destination, computes SHA-1/MD5 on the way, and remembers whether the
// source was drained to EOF. Callers either Promote the file (a single
// rename onto its checksum-named path) or Discard it; a file is never opened
// for writing at its final name.
package staging
