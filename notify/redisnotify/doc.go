// Package redisnotify publishes outbox lifecycle events to a Redis pub/sub
// channel so observers outside the process (a dashboard, a second desktop
// window, a support tool) can follow the queue. When registered as an
// extension it emits one JSON message per lifecycle point.
//
// Usage:
//
//	client, _ := redisnotify.Connect(ctx, "redis://localhost:6379/0")
//	hook := redisnotify.New(client, redisnotify.WithChannel("outbox:events"))
//	engine.WithExtension(hook)
//
// To restrict which events are published:
//
//	hook := redisnotify.New(client,
//	    redisnotify.WithEvents(
//	        redisnotify.EventJobDead,
//	        redisnotify.EventJobsPurged,
//	    ),
//	)
//
// Publishing is best-effort: Redis being down never affects job
// processing, the extension registry logs the error and moves on.
package redisnotify
