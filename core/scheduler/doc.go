// Package scheduler owns the queue of charging jobs. It estimates how long
// each job needs against the watt budget ledger, asks the price provider for
// the cheapest continuous window before the job's deadline, merges jobs whose
// windows overlap into simultaneous groups and answers "is it charging time"
// queries for the load balancer.
package scheduler
