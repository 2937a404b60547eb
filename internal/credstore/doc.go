// Package credstore reads operator-provisioned static credential material.
//
// Three backends with different deployment tradeoffs:
//   - Env: environment variable (requires external secret management)
//   - File: local file with secure-permission checks
//   - Keyring: OS-native credential storage (macOS Keychain, Windows
//     Credential Manager, Linux Secret Service)
//
// All backends are read-only: this material is managed by the operator, not
// by the service. It feeds two consumers — per-user fallback credentials
// adopted when a refresh grant fails, and first-run migration seeds.
package credstore
