// Package scheduler runs named periodic jobs from a single ticker loop.
//
// The billing engine uses it for the hourly subscription sweep. Jobs are
// plain func(ctx) error values; overlapping runs of the same job are
// prevented and panics are contained to the job that raised them.
package scheduler
