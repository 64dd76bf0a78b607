// Package xlcore contains the domain types describing a managed
// XIVLauncher.Core installation: the persisted install record, the release
// descriptor fetched per invocation, the secrets provider mode and the on-disk
// layout of an install directory.
package xlcore
