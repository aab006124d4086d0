// Package config loads runtime settings with koanf.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, IPSHOW_* environment variables, the plain PORT variable, and
// finally explicit overrides such as CLI flags.
package config
