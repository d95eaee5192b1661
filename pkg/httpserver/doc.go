// Package httpserver wraps net/http's Server with graceful shutdown and
// signal handling.
//
// Run blocks until the context is cancelled, an interrupt arrives or the
// listener fails; in-flight requests get ShutdownTimeout to finish.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// HealthCheckHandler builds liveness and readiness probes from dependency
// check functions such as pg.Healthcheck and redis.Healthcheck.
package httpserver
