// Package pipeline runs one sensor stream: a receive goroutine reads from a
// Source into pooled buffers and a bounded queue, a single decode goroutine
// feeds the decoder.Engine in arrival order, and a consumer goroutine hands
// completed frames to the registered handlers one at a time.
package pipeline
