// Package patch stages unified diffs for later, confirmed application.
//
// Prepare writes the diff to <staging>/<uuid>.patch and returns a summary the
// orchestrator can show a human. Apply runs `git apply --check` first and the
// real `git apply` only if the check passes, so a conflicting patch never
// touches the tree. Records that are never applied expire after the TTL; a
// robfig/cron job sweeps them every minute.
//
//	s, err := patch.New(patch.Config{Dir: staging, Root: workspace})
//	sum, err := s.Prepare(diff)
//	res, err := s.Apply(ctx, sum.PatchID)
package patch
