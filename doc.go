// Package veriflow orchestrates multi-step, time-boxed identity workflows:
// signup with email verification, login, forgot-password, email change,
// password change, and account recovery via backup codes. Each workflow is a
// small state machine whose steps are gated by short-lived, single-purpose
// proof tokens layered on top of a caller-owned long-lived session.
//
// The package is designed for concurrent, horizontally scaled server
// workloads: Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build], and every piece of cross-request
// state lives in Redis with store-native expiry.
//
// # Architecture boundaries
//
// veriflow is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserDirectory], [PasswordService], [CodeSender], and [SessionBinder]
// collaborator interfaces, and value types ([Proof], [Identity]). Artifact
// stores, the resend guard, and audit dispatch are unexported; token signing
// lives in the jwt/ sub-package and password hashing in password/.
//
// # What this package must NOT do
//
//   - Own durable user records. The [UserDirectory] is an injected
//     collaborator; veriflow reads and writes identities only at terminal
//     workflow steps.
//   - Trust client-claimed state. Every step re-validates its proof artifact
//     (signature plus server-side store presence) before transitioning.
//   - Surface collaborator errors or distinguish "expired" from "never
//     issued" in client-visible results.
package veriflow
