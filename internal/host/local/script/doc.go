// Package script runs JavaScript applications in a goja VM, one VM per app.
//
// A script defines optional callbacks and talks to the kernel through the
// fmrb global:
//
//	function onCreate() {
//	    console.log("started as", fmrb.pid);
//	}
//
//	function onMessage(msg) {
//	    if (msg.type === "hid_event" && msg.hid.subtype === "key_down") {
//	        fmrb.spawn("default/shell");
//	    }
//	}
//
// Available calls: fmrb.spawn(path, {focus}), fmrb.kill(pid),
// fmrb.suspend(pid), fmrb.resume(pid), fmrb.send(type, bytes) and
// fmrb.exit(). Every callback runs under Config.Timeout; a callback that
// throws or overruns ends the app.
package script
