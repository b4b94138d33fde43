// Command sro-crawler collects member records from the NOSTROY and NOPRIZ
// self-regulatory organisation registries.
//
// Architecture overview:
//   - Discovery: internal/discovery pages through sro/all/member/list sorted by
//     registration date, newest first, and keeps the IDs that fall inside the
//     requested window. A list-valued filter runs one pass per element.
//   - ID cache: internal/idcache stores the discovered IDs per filter set and
//     window (files or Redis) so an interrupted run resumes without listing again.
//   - Pipeline: internal/pipeline fetches details in batches of collect.window
//     concurrent requests, resolves SRO descriptors through a per-run cache and
//     normalises each record into a NostroyRow or NoprizRow.
//   - Output: internal/output appends rows to an xlsx workbook (flat or grouped by
//     sheet), a Google sheet or a Postgres table. Rows whose ID is already present
//     are skipped.
//   - Transport: internal/httpclient retries transient failures with jittered
//     backoff, paces requests per host and rotates the egress IP through an
//     optional rotation endpoint after repeated failures.
//   - Fanout: finished artifacts are uploaded to the configured blob store
//     (local/GCS/S3) and a compact Pub/Sub notification is published when a topic
//     is configured.
//   - Configuration & plumbing: Viper populates config from YAML, .env files and
//     SRO_* env vars; zap provides structured logging; Prometheus metrics are
//     exported by the schedule command's status server at /metrics.
//
// Quick checklist:
//   - One-off: sro-crawler collect --from 2024-02-01 --to 2024-02-29 --config config.yaml
//   - Daily: sro-crawler schedule --config config.yaml (triggers at schedule.at in
//     schedule.timezone, serves /healthz, /runs/last and /metrics on server.port).
//   - Several processes can split one ID list with --shard k --shards n.
package main
