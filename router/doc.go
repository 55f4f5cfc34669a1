// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the Quickly Assign API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(env)

# Endpoints

Health and metrics:

	GET /health
	GET /metrics

Sessions:

	POST /experiments/{exp}/sessions
	GET  /experiments/{exp}/sessions/{id}
	POST /experiments/{exp}/sessions/{id}/start
	POST /experiments/{exp}/sessions/{id}/save
	POST /experiments/{exp}/sessions/{id}/finish
	POST /experiments/{exp}/sessions/{id}/abort

Allocation (X-Session-ID header required):

	POST /experiments/{exp}/randomizers/{name}/condition
	POST /experiments/{exp}/quotas/{name}/count

Status:

	GET /experiments/{exp}/randomizers/{name}/status
	GET /experiments/{exp}/quotas/{name}/status

All API routes are wrapped with middleware.WithLogging. CORS is applied
around the whole mux in main.
*/
package router
