// Package config defines the format-agnostic configuration model for a
// jobgrid run, along with the Loader interface for reading it from a
// concrete source.
//
// The `config.Model` is the single source of truth for the `app` package.
// Concrete loaders, such as the HCL one, live in separate packages.
package config
