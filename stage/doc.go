// Package stage holds the building blocks of pipelines made of segpipe
// pipes: sources turning a sequence into bytes, and stages reading one
// pipe while writing another.
//
// A stage forwards what happens upstream: completion completes the
// downstream writer, an upstream error completes it with that error, and a
// cancelled upstream read stops the stage without touching the downstream
// pipe. When the downstream reader goes away, the stage completes its
// upstream reader so the producer sees `segpipe.ErrPeerGone`.
package stage
