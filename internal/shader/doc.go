// Package shader loads WGSL compute shaders and reloads them when their
// files change.
//
// A [Set] is assembled from one or more files read from an embedded file
// system, optionally overridden by a directory on disk. With a [Watcher]
// attached, [Set.Refresh] picks up edits, validates them with naga and
// swaps them in only when they compile.
package shader
