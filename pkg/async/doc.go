// Package async provides a small generic Future for running the long-lived
// parts of a process concurrently and collecting their exit errors.
//
// Go starts a function in its own goroutine and returns a *Future. Await
// blocks for the result; WaitAll collects several futures, returning all
// results and the first error. A context cancelled before the function
// starts completes the future with the context error.
//
//	server := async.Go(ctx, func(ctx context.Context) (struct{}, error) {
//		return struct{}{}, srv.Run(ctx, handler)
//	})
//	sweeper := async.Go(ctx, func(ctx context.Context) (struct{}, error) {
//		return struct{}{}, sched.Start(ctx)
//	})
//	_, err := async.WaitAll(server, sweeper)
package async
