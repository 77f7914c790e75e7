// Package file loads watchtower configuration from a TOML file: one
// [global] table for scheduler and publishing settings, plus a [[sources]]
// entry per watched origin. In long-running mode the file is watched with
// fsnotify and reloaded explicitly.
package file
