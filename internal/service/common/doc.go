// Package common holds helpers shared by several services.
//
// It provides an HTTP client for the GitHub Releases API with timeouts and
// rate-limit detection, and the release sources (GitHub or a custom HTTP
// location) that describe the latest runtime release.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
