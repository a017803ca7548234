// Command docgen hosts the document generation gateway.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts multipart uploads on api.generate_path, serves generated files under
//     api.download_prefix and exposes health, readiness, metrics and a read-only job history.
//   - Jobs: internal/job.Service stages each upload under paths.upload_dir, lists paths.output_dir, runs the worker
//     program with the staged path as its last argument, lists the directory again and lets internal/artifact pick
//     the file the worker wrote. The output directory is shared, so the list → run → list window is held under a lock
//     (in-process by default, Redis when several replicas share a volume).
//   - Fanout: finished artifacts can be mirrored to a BlobStore (memory/local/GCS), a job record is published to
//     Pub/Sub when a topic is configured and every job is recorded in the history store (memory or Postgres).
//   - Plumbing: Viper populates config from file and DOCGEN_* env vars; zap provides structured logging; Prometheus
//     metrics are served on /metrics; OpenTelemetry spans cover HTTP requests and job processing.
//
// Subcommands:
//   - serve: run the HTTP gateway until SIGINT/SIGTERM.
//   - run <file>: push one file through the same pipeline and print the JSON result.
//   - resolve: show which output file the resolver would choose between two listings.
package main
