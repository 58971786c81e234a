// Package streamstore implements an ordered, immutable message store layered
// over PostgreSQL.
//
// Messages are appended to named streams with optimistic concurrency control.
// Every message gets a dense, 0-based version within its stream and a global,
// strictly-increasing (but possibly sparse) position across the store. Both
// views can be read forward or backward, and both can be tailed through live
// subscriptions with at-least-once delivery.
//
// The Store talks to storage through the Driver interface; the pg subpackage
// provides the pgx-backed implementation together with schema bootstrap.
// Subscribers are woken by a Notifier — either a head-polling timer or a
// Postgres LISTEN/NOTIFY listener (see the notify subpackage).
package streamstore
