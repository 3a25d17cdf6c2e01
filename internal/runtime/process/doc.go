// Package process launches services as local child processes and exposes them
// through runtime.Handle.
//
// On Unix the graceful interrupt is SIGINT and the forceful stop is SIGKILL.
// By default children share the supervisor's process group, so a Ctrl-C at the
// terminal reaches them directly and the supervisor's grace period gives them
// time to exit on their own. With Options.Isolate each child leads its own
// group and both signals are delivered to every member of that group.
//
// On Windows every child is started in a new console process group. Interrupt
// raises CTRL_BREAK_EVENT for that group and Kill terminates only the
// top-level process; grandchildren are not tracked.
package process
