// Package jwt signs and parses the purpose-tagged proof tokens used by the
// veriflow workflow engine. Tokens are deliberately minimal: subject,
// purpose, a random secret pointing at a revocable server-side artifact,
// and standard expiry claims. A parsed token is never sufficient proof on
// its own; the engine always re-checks the artifact.
package jwt
