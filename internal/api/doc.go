// Package api hosts the HTTP server and handlers of the gateway. Notable
// routes:
//   - POST /generate-sop accepts a multipart "file" upload and runs the worker.
//   - GET /download/{filename} streams a generated artifact as an attachment.
//   - GET /api/jobs and /api/jobs/{job_id} expose finished-job history.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
