// Package secret resolves credentials referenced from configuration.
//
// Configuration values may embed environment variables (${VAR}, expanded
// strictly) and secret references of the form
//
//	secretref:<provider>:<ref>
//
// either as the whole value or inline ("Bearer secretref:env:API_TOKEN").
// Two providers are built in: "env" reads an environment variable and "file"
// reads a file below a base directory, which suits mounted container secrets.
//
// Providers must never log the values they return.
package secret
