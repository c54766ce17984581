package storage

// Rebind exposes placeholder rewriting to the external test package.
var Rebind = rebind
