// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate runs streaming generations against an inference backend.
//
// A Pipeline owns a single generation slot for the whole process: Start while
// a generation is running fails with ErrAlreadyRunning rather than queueing.
// Each Generation moves through
//
//	Idle -> Running -> Completed | Cancelled | Failed
//
// and the slot is released before the terminal event is delivered, so a
// consumer reacting to completion can start the next generation at once.
//
// # Event Delivery
//
// Every fragment is appended to the session's trailing assistant message and
// then published as an Event. Events arrive on Generation.Events in emission
// order, none are dropped, and the channel is closed after the terminal
// event. The producer never blocks on a slow consumer; events queue until
// read. Consumers must drain the channel (or stop reading only after the
// terminal event) so the forwarding goroutine can exit.
//
// # Cancellation
//
// Cancel sets an atomic flag and cancels the generation context. The flag is
// checked before every fragment is appended, so at most the fragment being
// emitted at that instant lands after the call. Acknowledgement is
// cooperative: a backend that neither returns the emit error nor watches its
// context keeps running, and there is no forced kill.
//
// # Usage
//
//	p := generate.NewPipeline(backend, generate.WithLogger(logger))
//	g, err := p.Start(ctx, sess, prompt.Compose(sess))
//	for ev := range g.Events() {
//	    switch ev.Kind {
//	    case generate.EventChunk:
//	        fmt.Print(ev.Fragment)
//	    case generate.EventFailed:
//	        fmt.Println("error:", ev.Err)
//	    }
//	}
package generate
