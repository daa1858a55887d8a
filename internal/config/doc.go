// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// The realtime base address may be left empty; the realtime package then falls
// back to $TRADEIQ_WS_URL and finally ws://localhost:8000/ws.
package config
