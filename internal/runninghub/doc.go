// Package runninghub is the client for the RunningHub remote workflow API.
// It submits app runs, polls their status, cancels them and reads account
// balances. It interprets response codes only as far as the scheduler needs
// to drive its state machine and keeps no scheduling state of its own.
package runninghub
