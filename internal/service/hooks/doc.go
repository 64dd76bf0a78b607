// Package hooks runs user-provided scripts before and after the runtime starts.
//
// Hooks live in "<phase>.d" directories of the install directory. Every
// regular executable file directly inside is run once, sequentially, in
// lexicographic file name order, with the same environment the runtime gets.
// A failing hook is logged and never stops the hooks after it or the launch.
package hooks
