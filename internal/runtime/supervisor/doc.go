// Package supervisor runs the bot's long-lived tasks.
//
// Every task has its own restart budget. A task is restarted after any exit,
// including a clean nil return: tasks are loops that should never return, so
// a return is treated as abnormal. Errors and panics are logged at the
// supervisor boundary and never reach other tasks or the caller of RunAll.
//
// A monitor task with an unlimited budget is registered by New and logs
// per-task stats on a fixed interval.
//
// Cancelling the context passed to RunAll stops everything: running tasks
// see ctx.Done(), and no further restarts happen.
package supervisor
