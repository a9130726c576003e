// Package process is the kernel's process table.
//
// The Manager assigns small reusable pids, asks the process host to
// instantiate applications, creates and removes their windows, and hands
// focus to newly spawned apps.
//
// Kill, Suspend and Resume are total: unknown pids return ErrUnknownPid and
// never touch the window registry. Their contract is partial. Suspend keeps
// the window on screen, and Kill does not pass focus to another app.
//
// Example Usage:
//
//	procs := process.NewManager(host, windows, process.WithMaxApps(8))
//	procs.SetFocusController(router)
//	pid, err := procs.Spawn(ctx, "default/shell", true)
package process
