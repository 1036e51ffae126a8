// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the Parlo metering service.
//
// The service meters paid-resource consumption (LLM tokens, TTS
// characters, object storage) per user, enforces subscription and
// free-tier quotas, and serves the per-user settings blob.
//
// Usage:
//
//	./server
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	PARLO_REDIS_URL - redis connection URL
//	DATABASE_URL - PostgreSQL connection string
//	PARLO_JWT_SECRET - bearer-token secret (empty trusts X-User-ID)
//	PARLO_CONFIG - optional YAML config file
package main

import (
	"log"

	"parlo/platform/server"
)

func main() {
	if err := server.Run(); err != nil {
		log.Fatal(err)
	}
}
