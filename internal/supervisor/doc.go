// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

/*
Package supervisor runs Tracklog's long-lived services under a suture v4 tree.

	RootSupervisor ("tracklog")
	├── DataSupervisor ("data-layer")
	│   ├── PeriodicService "cache-janitor"      (memory cache only)
	│   └── PeriodicService "store-maintenance"  (badger GC, duckdb checkpoint)
	├── MessagingSupervisor ("messaging-layer")
	│   └── QueueWriterService                   (ingest.mode = nats)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Each layer counts failures independently, so a crashing queue writer is
restarted with backoff without touching the HTTP server. Supervisor events
are logged through sutureslog into the zerolog-backed slog handler.
*/
package supervisor
