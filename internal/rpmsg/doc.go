// Package rpmsg owns host-side messaging with the PRU coprocessor.
//
// Ownership boundary:
// - endpoint discovery (raw /dev/rpmsg* devices, remoteproc uevent files)
//
// - blocking channel with poll(2) based timeouts
//
// - event-driven channel parked on descriptor readiness
//
// - per-shape message framing shared by both channel styles
//
// Two endpoint shapes exist. A RawByteStream endpoint is a bidirectional
// character device; one read(2) is one message, at most MaxMessageSize
// bytes. A LineNotification endpoint is a read-only uevent stream; one
// message is one newline-terminated line, returned unmodified.
//
// Handles are single-owner. Channel blocks the calling goroutine's thread
// in read/write; AsyncChannel parks the goroutine on the runtime poller and
// never spins. Neither type locks internally: drive one handle from one
// goroutine at a time.
//
// A zero-length RawByteStream message means end of stream. "Nothing
// available yet" is never reported as an empty message: blocking reads
// wait, event-driven reads re-suspend, and timed reads report ok=false.
package rpmsg
