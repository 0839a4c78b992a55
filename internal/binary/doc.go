// Package binary defines the Provider contract shared by every storage tier
// (cache, filesystem, remote, memory) and the Chain that composes them in a
// fixed order. Tiers hold an explicit reference to the next tier; the chain
// only decides where a request enters and which tiers a delete touches.
package binary
