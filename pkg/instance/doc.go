// Package instance persists workflow instance documents.
//
// One JSON document exists per instance, keyed by instance id under a
// family-namespaced directory. All writes go through the atomic
// temp-file-and-rename protocol, so concurrent readers never observe a
// partially written document. The only public mutator is Append, which
// merges attributes, appends to the phase history, and refreshes
// updated_at. Archiving keeps the document queryable; it never deletes.
package instance
