// Package task runs a long-lived goroutine under an explicit, observable
// lifecycle.
//
// A Task wraps a function that blocks until its context is cancelled.
// Stop cancels it and waits for a bounded time; Status reports where the
// task is in its lifecycle:
//
//	stopped -> starting -> running -> stop_requested -> stopped
//
// The device manager runs its receive loop as a task named
// "mqtt-receive-loop", one run per broker connection.
package task
