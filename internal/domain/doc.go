// Package domain contains the background task entity tracked by the
// scheduler, the workflow node assignments a task is submitted with, and
// the outputs a finished task produces. It is independent of any transport
// or storage concern.
package domain
