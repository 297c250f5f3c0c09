// Package dispatch decides which collaborator process a container runs and
// hands control to it.
//
// The dispatcher reads the runtime mode once, selects exactly one target, and
// launches it. There is no supervisor, retry loop, or fallback:
//
//   - RUN_MODE=pipeline launches the pipeline executable.
//   - Any other value, including unset or empty, launches the web script.
//   - If the selected target cannot be started the launch error's exit code
//     (127 not found, 126 not executable) becomes the container status; the
//     other target is never tried.
//   - Otherwise the collaborator's own exit status is reported unchanged.
//
// With the default ExecLauncher the dispatcher process is replaced by the
// collaborator, so no code runs after a successful hand-off.
package dispatch
