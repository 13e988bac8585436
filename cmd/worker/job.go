package main

// job is the unit of work read off the Redis queue and, when greylisted,
// re-enqueued onto the retry ZSET.
type job struct {
	JobID    string `json:"jobId"`
	Email    string `json:"email"`
	Attempts int    `json:"attempts"`
}
