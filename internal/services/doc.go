// Package services holds process-level services that sit beside the
// license engine. HealthService answers liveness and readiness probes by
// pinging the database, the cache and key storage:
//
//	health := services.NewHealthService(config.AppVersion, clock.Real(), logger,
//	    services.DatabaseCheck(db),
//	    services.RedisCheck(rdb),
//	    services.KeyStorageCheck(storage),
//	)
//	status := health.ReadinessCheck(ctx)
package services
