// Package work defines what the scheduling core runs: an immutable Descriptor
// pairing a registered work-function name with cty-typed positional and
// keyword arguments, the versioned payload codec used to move descriptors and
// outcomes across process boundaries, and the error taxonomy shared by pools
// and backends.
package work
