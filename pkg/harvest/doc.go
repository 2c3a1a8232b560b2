// Package harvest runs the per-partition harvest loop and the run driver
// across partitions.
//
// A partition moves through a small state machine (see Transition): a
// checkpoint hit completes it immediately; otherwise it is fetched window by
// window, written as it arrives, and on capacity failures its page size is
// halved (down to a floor) and fetching resumes at the current offset after
// a cooldown. Too many consecutive failures abandon the partition with its
// partial output kept. Any other failure is fatal to the whole run.
package harvest
