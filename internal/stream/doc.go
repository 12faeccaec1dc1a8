// Package stream fetches and decodes streamed tiles on a worker goroutine.
//
// The frame goroutine queues requests with [Streamer.RequestTile] and
// drains decoded tiles with [Streamer.TryComplete]; neither call blocks.
// The first storage or decode failure stops the worker for good, and every
// later request reports it wrapped in [ErrWorkerStopped].
package stream
