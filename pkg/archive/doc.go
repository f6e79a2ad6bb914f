// Package archive keeps the raw body of every verified webhook delivery, keyed by
// provider and event id. Both archivers satisfy billing.Archiver:
//
//	store, err := archive.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	reconciler := billing.NewReconciler(provider, st, catalog, users, billing.WithArchiver(store))
package archive
