// Package change decides whether a fetched activity snapshot is worth a
// notification.
package change

import (
	"slices"

	"linktracker/internal/domain"
)

// Changed reports whether the fetched marker differs from the stored one.
// Markers are opaque source-defined strings, so only equality is meaningful.
func Changed(storedMarker string, snapshot domain.ActivitySnapshot) bool {
	return snapshot.Marker != storedMarker
}

// NotifyWorthy reports whether a changed snapshot should produce a
// notification. An author present in the link's ignore set suppresses the
// notification; the caller still persists the new marker so the same ignored
// activity is not re-evaluated as new on every poll.
func NotifyWorthy(link domain.TrackedLink, snapshot domain.ActivitySnapshot) bool {
	if !Changed(link.Marker, snapshot) {
		return false
	}

	return !slices.Contains(link.IgnoredAuthors(), snapshot.Author)
}
