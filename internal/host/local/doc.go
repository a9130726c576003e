// Package local is an in-process host.
//
// Each app runs as a suture-supervised goroutine with a bounded mailbox
// (DefaultMailboxSize messages). Deliver never blocks: a full mailbox fails
// with types.ErrMailboxFull. Apps are either builtins (the desktop and the
// shell) or goja scripts described by catalog manifests. An app that returns
// on its own sends a self kill so the kernel frees its slot and window.
//
// Example:
//
//	h := local.New(local.WithLogger(logger))
//	k := kernel.New(h)
//	sup.Add(h)
//	sup.Add(k)
package local
