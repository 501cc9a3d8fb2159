// Package task schedules RunningHub jobs in the background.
//
// The Scheduler keeps every task in memory and admits queued tasks in FIFO
// order while fewer than the configured number of jobs run remotely. Each
// running task has its own poller goroutine that drives it to a terminal
// status, a watchdog that fails it after a fixed time, and a best-effort
// remote cancel when the user gives up on it. Terminal tasks are written to
// a store.TaskStore so history survives restarts; every state change is
// emitted as an events.TaskEvent.
package task
