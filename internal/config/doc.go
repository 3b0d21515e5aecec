// Package config defines the format-agnostic configuration model of a
// render batch, along with the Loader interface for reading it from
// various sources.
//
// The `config.Model` is the single source of truth for the `app` package,
// which turns it into a scene, a shader binding table and renderer options.
// Concrete loaders, such as for HCL, are provided in separate packages.
package config
