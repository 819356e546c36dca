// Package password provides the default PasswordService collaborator for
// veriflow: argon2id hashing in PHC string format, a local strength policy,
// and a k-anonymity breach lookup against the Pwned Passwords range API.
package password
