// Package queue provides the durable dispatch queue and routing audit log
// backed by SQLite.
//
// Every accepted webhook becomes a pending task row before the HTTP response
// is written, so accepted dispatches survive a process restart. Workers claim
// tasks transactionally; the claim query skips instances that already have a
// running task, which serializes phases of one instance while letting
// distinct instances run in parallel.
//
// The routing_audit table records the outcome of every inbound delivery,
// including ignored and rejected ones, for operator inspection.
package queue
