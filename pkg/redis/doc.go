// Package redis connects to Redis with go-redis and provides a distributed
// billing.Locker on top of it.
//
// Locker takes a key with SET NX PX and a random token and releases it with a Lua
// compare-and-delete, so an expired lock taken over by another instance is never
// removed by the previous holder.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	locker := redis.NewLocker(client, cfg, log)
//	reconciler := billing.NewReconciler(provider, store, catalog, users, billing.WithLocker(locker))
package redis
