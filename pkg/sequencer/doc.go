// Package sequencer runs independent fetch tasks with bounded parallelism.
//
// Tasks are split into consecutive chunks of at most width tasks. A chunk runs
// in parallel and must fully settle before the next chunk starts, so the
// upstream never sees more than width requests from one call. Every task runs
// to completion: one failure does not cancel its siblings or later chunks.
//
// Example usage:
//
//	tasks := make([]sequencer.Task[result.Batch], 0, len(starts))
//	for _, s := range starts {
//		tasks = append(tasks, func(ctx context.Context) (result.Batch, error) {
//			return orch.GetCachedOrFetchBatch(ctx, keyFor(s)), nil
//		})
//	}
//	outcomes := sequencer.Run(ctx, tasks, 1)
//
// With width 1 the tasks run strictly one after another.
package sequencer
