// Package auth holds user accounts, password hashing and access tokens.
//
// Three roles exist: user, admin and owner. Users run scans and see only
// their own; admins and owners see everything, manage data sources and
// read the audit log. Passwords are hashed with Argon2id and API requests
// carry short-lived HS256 JWTs whose subject is the user ID.
package auth
