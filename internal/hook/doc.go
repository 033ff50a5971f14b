// Package hook runs user Lua scripts when the debuggee stops.
//
// A script defines any of these global functions, each receiving a table
// that describes the event:
//
//	on_break(ev)      -- breakpoint hit or step complete
//	on_exception(ev)  -- exception raised
//	on_module(ev)     -- script compiled
//	on_exit(ev)       -- process exited
//
// on_break and on_exception may return "continue", "step_over",
// "step_into" or "step_out" to resume the stopped thread; returning
// nothing leaves it stopped. Scripts can call log(msg) and
// log(level, msg) to write to the debugger log.
//
// Only the base, table, string and math libraries are available.
package hook
