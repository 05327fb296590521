// Package lua runs Lua scripts as plugins.
//
// A Plugin wraps a sandboxed gopher-lua state and implements the plugin
// package's LoadHook, UnloadHook and MethodProvider interfaces, so a script
// is managed like any Go plugin instance:
//
//	-- init.lua
//	local bus = require("plugbus")
//	local M = {}
//
//	function M.onPluginLoad(ev)
//	    bus.log.info("loading " .. ev.plugin_name)
//	    ev.eventbus:on("hello", function(who) return "hello " .. who end)
//	end
//
//	function M.onPluginUnload(ev)
//	    ev.state = { reloaded = true }
//	end
//
//	function M.shout(s) return string.upper(s) end
//
//	return M
//
// The Loader resolves module paths to plugin directories (plugin.json,
// init.lua or plugin.lua) or single .lua files and hands the manager a
// plugin.Factory:
//
//	loader := lua.NewLoader(lua.WithPaths("/etc/plugbus/plugins"))
//	mgr, err := plugin.NewManager(plugin.WithLoader(loader))
//
// # Sandbox
//
// Only the base, table, string and math libraries are open. dofile,
// loadfile, load and loadstring are removed and require only returns safe
// built-ins and host modules under the "plugbus" prefix.
//
// # Bridge
//
// The Bridge converts plain Go data (numbers, strings, slices, string keyed
// maps) to Lua values and back. Sequences become []any and other tables
// map[string]any.
package lua
