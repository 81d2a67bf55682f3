// Package tokenstore persists exported access tokens for consumers that
// cannot read the application's state database themselves.
//
// Two backends are supported:
//   - File: a JSON document on the local filesystem with atomic writes and 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
package tokenstore
