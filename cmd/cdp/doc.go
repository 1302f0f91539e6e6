/*
cdp is the CDP session gateway's reference command-line front end.

It owns one session pool (isolated or shared-profile mode),
launching or adopting Chrome processes through the Browser Supervisor and
exposing the full Tool Surface through an interactive
"cdp>" prompt. Each line is a tool name followed by a JSON arguments
object; the session-id defaults to "default" unless -session-id names
one, so a single prompt can juggle several sessions with ".session <id>".

Usage:

	cdp [flags]

Flags:

	-mode <isolated|shared>
	    Session Pool operating mode. Isolated gives every
	    session its own Chrome process; shared runs every session inside
	    one process with per-session browser contexts. (default: isolated)
	-profile <name>
	    Chrome profile directory name, shared mode only. Its cookies,
	    history, bookmarks, and local storage are copied into the launch
	    directory so sessions see the operator's real browsing data.
	-chrome-path <path>
	    Browser executable to launch, skipping install-location probing.
	-cookie-domains <d1,d2,...>
	    Restrict the cookies copied in shared mode to matching hosts.
	-headless
	    Launch Chrome with --headless=new.
	-port-min, -port-max <port>
	    Debug port allocation range: one port per session's browser in
	    isolated mode, one for the single shared browser in shared mode.
	    (default: 9222-9322)
	-session-id <id>
	    Default session id new tool calls resolve against. (default: "default")
	-verbose
	    Enable debug-level structured logging.

Interactive prompt:

	cdp> navigate_page {"type":"url","url":"https://example.com"}
	cdp> take_snapshot {}
	cdp> click {"uid":"1_4"}
	cdp> .session work-b
	cdp> .tools
	cdp> .profiles
	cdp> .quit

".tools" lists the registry by category; ".profiles" lists the operator's
Chrome profiles; ".session <id>" switches which session subsequent tool
calls resolve against. Every other line is parsed
as "<tool_name> <json-args>"; a bare tool name with no JSON is the same as
passing "{}".
*/
package main
