// Package pg bootstraps PostgreSQL access on top of pgx/v5 and goose/v3.
//
// Connect opens a *pgxpool.Pool from an env-populated Config and retries until the
// database answers. Migrate applies goose migrations from an fs.FS, usually an
// embed.FS shipped next to the repository code. WithTx runs a function in a
// transaction, and the Is*Error helpers classify *pgconn.PgError values.
//
// # Usage
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), log); err != nil {
//		return err
//	}
//
//	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "UPDATE ...")
//		return err
//	})
package pg
