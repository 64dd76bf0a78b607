// Package config defines the launch configuration of xlm.
//
// A Launch value is assembled from an optional YAML settings file and the CLI
// flags that override it, then validated once with Validate, which also fills
// in defaults such as the install directory and upstream repositories.
package config
