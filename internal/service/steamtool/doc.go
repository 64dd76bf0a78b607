// Package steamtool installs xlm as a Steam compatibility tool.
//
// The tool directory holds the two manifests Steam reads, the xlm.sh shim
// Steam executes and a copy of the xlm executable. The runtime is installed
// next to them in the xlcore directory on first launch.
package steamtool
