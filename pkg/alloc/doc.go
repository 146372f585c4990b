// Package alloc reserves and releases per-instance isolated resources.
//
// Each workflow instance gets a dedicated git worktree (checked out on a
// deterministic branch derived from family, instance id, and issue slug)
// and one port pair from its family's fixed range. The app and infra
// ranges are disjoint, so instances never collide on ports regardless of
// family.
//
// Reservation is an explicit service operation: a single lock serializes
// in-process callers, and port slots are claimed via exclusive-create
// lease files so the reserve step stays atomic even across processes.
// Release removes the worktree and lease; the instance document itself is
// untouched.
package alloc
