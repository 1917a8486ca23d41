// Package project ties a project on disk to a live page.
//
// A Project opens one or more root directories as a single resource
// collection, keeps it in sync with the disk, and hands it to a pairing
// registry that matches project files with the live page's resources.
//
// # Architecture
//
// The package composes these components:
//
//   - fsstore: one resource collection per root, kept current by a watcher
//   - resource: the Resource and Collection contracts plus Set and Union
//   - index: basename and relative-path lookup with fuzzy path search
//   - pairing: the registry that reconciles project and live resources
//   - pairstore: SQLite persistence for manual pairings
//
// # Quick Start
//
//	proj := project.New(project.WithDebounce(50 * time.Millisecond))
//	if err := proj.Open(ctx, "/path/to/site"); err != nil {
//	    log.Fatal(err)
//	}
//	defer proj.Close(ctx)
//
//	// Pair against a live collection
//	if err := proj.AttachLive(client); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Search for files
//	matches, err := proj.FindFiles("site css", 10)
//
// # File Changes
//
// Handlers registered with OnFileChange are called when an existing file's
// contents change on disk:
//
//	proj.OnFileChange(func(r resource.Resource) {
//	    if p, ok := proj.Registry().Lookup(r); ok {
//	        // push r to p.Live()
//	    }
//	})
//
// # Thread Safety
//
// All Project methods are safe for concurrent use. File change handlers run
// on watcher goroutines.
package project
