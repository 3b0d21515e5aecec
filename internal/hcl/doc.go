// Package hcl provides the concrete HCL implementation of the config.Loader
// interface. It is responsible for all file parsing, HCL-to-model
// translation, default values and CTY-to-Go data binding.
//
// Every attribute is kept as an expression until translation so it may
// refer to `var.<name>` values declared in `variable` blocks of any loaded
// file, and call a small set of cty standard functions.
package hcl
