// Package access decides what an actor may do with a file. Decisions are
// pure functions over the file row and the actor's share grant; callers load
// fresh state on every request so a revoked grant takes effect immediately.
package access

import "localehub/api/internal/store"

// Anonymous is the actor ID of an unauthenticated caller.
const Anonymous = ""

// CanView reports whether the actor may read the file. Owners always can,
// public files are readable by anyone including anonymous callers, and any
// share grant implies at least view.
func CanView(file store.File, share *store.FileShare, actorID string) bool {
	if actorID != Anonymous && actorID == file.OwnerID {
		return true
	}
	if file.IsPublic {
		return true
	}
	return actorID != Anonymous && share != nil && share.GranteeID == actorID
}

// CanEdit reports whether the actor may mutate the file's content. Public
// visibility never implies edit.
func CanEdit(file store.File, share *store.FileShare, actorID string) bool {
	if actorID == Anonymous {
		return false
	}
	if actorID == file.OwnerID {
		return true
	}
	return share != nil && share.GranteeID == actorID && share.CanEdit
}

// IsOwner reports whether the actor owns the file. Deletion and share
// management are owner-only regardless of grants.
func IsOwner(file store.File, actorID string) bool {
	return actorID != Anonymous && actorID == file.OwnerID
}
