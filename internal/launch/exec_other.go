//go:build !unix

package launch

// Default returns the launcher used by the container entrypoint. Without
// execve the collaborator runs as a child and its status is propagated.
func Default() Launcher {
	return NewChildLauncher()
}
