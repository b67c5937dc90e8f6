// Package config loads the core's settings from flags, environment variables
// and .env files.
//
// Every setting has a kebab-case key that doubles as the flag name. The
// environment variable is the key upper-cased with a STEADY_ prefix and
// dashes turned into underscores:
//
//	--storage-busy-timeout  STEADY_STORAGE_BUSY_TIMEOUT=10s
//	--caches                STEADY_CACHES=messaging-reads:30s:500,profiles:5m:1000
//
// Flags win over environment variables, which win over .env files, which win
// over defaults. String settings that may carry credentials are passed
// through a secret.Resolver, so STEADY_REMOTE_TOKEN=secretref:file:remote/token
// reads the token from the secrets directory.
package config
