// Package segpipe exposes an in-process pipe linking one producer goroutine
// to one consumer goroutine through a sequence of fixed-capacity segments.
//
// The writer asks for a region (`Writer.Allocate`), fills it, commits what
// it wrote (`Writer.Advance`) and publishes it (`Writer.Flush`). The reader
// gets a view over every published byte (`Reader.Read`) and releases what
// it used (`Reader.Advance`). Bytes are never copied by the pipe itself.
//
// Flush blocks once the unread amount passes the high-water mark and
// resumes when the reader brought it down to the low-water mark, so a fast
// producer cannot outgrow a slow consumer. Completion, errors and early
// termination of either side travel through the return values of Read and
// Flush, which lets stages built on top of pipes shut down in order.
package segpipe
