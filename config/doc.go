// Package config defines the server configuration, its defaults, and
// validation.
//
// Configuration is plain JSON loaded with Load and merged over Default.
// The cmd layer layers command-line flags and EMBEDATLAS_* environment
// variables on top; this package only knows about the file format.
//
// The helpers (GetString, GetInt, ...) provide panic-free access to
// dynamic map payloads, used by the HTTP handlers when reading reducer
// arguments from request bodies.
package config
