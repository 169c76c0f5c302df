// Package registry is the glue between job definitions and compiled Go code.
//
// A job names its work function by a stable string key (e.g. "arith.square").
// The Registry maps those keys to work.Func values compiled into the binary,
// which is what lets a materialized unit be resolved again inside a remote
// container or batch slot: the same binary runs `jobgrid exec-unit` there and
// looks the function up by name.
//
// During startup modules register their functions, and the registry is then
// validated against the configured jobs so that a typo in a function name is
// reported before anything is submitted.
package registry
