// Package link carries the host boundary over a websocket.
//
// Server wraps any host.Host (normally host/local) and serves it at
// DefaultPath; Client implements host.Host on the kernel side. Frames are
// binary websocket messages with a 16-byte header (magic "FMRB", link
// version, kind, flags, sequence, body length) followed by a msgpack body,
// zstd compressed when larger than the framer's threshold.
//
// Requests (hello, spawn, terminate, suspend, resume) are answered by a
// reply frame carrying the request's sequence. Deliver and app message
// frames are one-way.
package link
