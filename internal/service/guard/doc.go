// Package guard makes sure only one launch runs per install directory.
//
// Admit takes an exclusive lock on the install directory's lock file. A
// rejected caller waits one grace delay (Steam starts a tool twice in a row),
// tries again and then gives up with ErrAlreadyRunning instead of queueing.
// Where flock is unavailable the guard creates the lock file exclusively and
// reclaims it when the process recorded inside is gone.
package guard
