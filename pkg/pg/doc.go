// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool with
// startup retry, goose schema migrations, a healthcheck probe and error
// classification helpers.
//
// Configuration comes from environment variables via the Config struct:
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//		return err
//	}
//
// IsDuplicateKeyError and friends unwrap *pgconn.PgError so storage code can
// branch on constraint violations without importing pgconn everywhere.
package pg
