// Package sync keeps the Markdown issue tree and the beads store in
// agreement.
//
// Overview
//
// A run loads both sides, compares them with DetectChanges and applies the
// result in one of three directions:
//
//	beads-to-files   beads is authoritative, files are (re)written
//	files-to-beads   files are authoritative, beads is created/updated
//	bidirectional    each differing issue goes the way its newer side says
//
// An issue found on one side only is either copied to the other side or,
// when deletions are handled, deleted from the side that still has it.
// Deletions are opt-in. With a state store configured, issues never synced
// before are always copied, never deleted.
//
// Every backend call and file write stands alone: a failure is recorded in
// Result.Errors and the rest of the run continues. Only failing to load
// either side aborts a run.
//
// Usage
//
//	s, err := sync.New(sync.Config{
//	    Files:   frontmatter.NewDir(".todo", frontmatter.WriteOptions{}, nil),
//	    Beads:   beads.Log{Path: beads.LogPath(".")},
//	    Backend: beads.NewJSONLBackend(beads.LogPath("."), beads.JSONLConfig{}),
//	})
//	if err != nil {
//	    return err
//	}
//	res, err := s.Sync(ctx, sync.Options{Direction: sync.Bidirectional})
package sync
