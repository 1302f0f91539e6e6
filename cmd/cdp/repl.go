package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tmc/misc/cdp-gateway/internal/chromeprofiles"
	"github.com/tmc/misc/cdp-gateway/internal/gwerr"
	"github.com/tmc/misc/cdp-gateway/internal/termmd"
	"github.com/tmc/misc/cdp-gateway/internal/toolsurface"
)

// REPL drives the "cdp>" prompt documented in doc.go: each line is either
// a dot-command (.session, .tools, .profiles, .quit) or a tool name
// followed by a JSON arguments object, dispatched through the registry
// against the current session id.
type REPL struct {
	registry  *toolsurface.Registry
	profiles  chromeprofiles.ProfileManager
	log       *zap.Logger
	sessionID string
}

func (r *REPL) Run(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Fprintf(out, "cdp> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			r.dispatchLine(out, line)
		}
		fmt.Fprintf(out, "cdp> ")
	}
}

func (r *REPL) dispatchLine(out io.Writer, line string) {
	if strings.HasPrefix(line, ".") {
		r.dotCommand(out, line)
		return
	}

	name, argsText := splitToolLine(line)
	args := map[string]interface{}{}
	if argsText != "" {
		if err := json.Unmarshal([]byte(argsText), &args); err != nil {
			fmt.Fprintf(out, "error: parsing arguments: %v\n", err)
			return
		}
	}

	ctx := context.Background()
	result, err := r.registry.Dispatch(ctx, r.sessionID, name, args)
	if err != nil {
		fmt.Fprintf(out, "error: %s\n", formatErr(err))
		return
	}
	for _, c := range result.Content {
		switch c.Type {
		case "text":
			fmt.Fprintln(out, c.Text)
		case "image":
			fmt.Fprintf(out, "<%d bytes of %s>\n", len(c.Bytes), c.MimeType)
		case "resource":
			fmt.Fprintf(out, "<resource %s>\n", c.URI)
		}
	}
}

func (r *REPL) dotCommand(out io.Writer, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".quit", ".exit":
		fmt.Fprintln(out, "bye")
		os.Exit(0)
	case ".session":
		if len(fields) < 2 {
			fmt.Fprintf(out, "current session: %s\n", r.sessionID)
			return
		}
		r.sessionID = fields[1]
		fmt.Fprintf(out, "session set to %s\n", r.sessionID)
	case ".tools":
		fmt.Fprint(out, r.renderToolList())
	case ".profiles":
		if r.profiles == nil {
			fmt.Fprintln(out, "no profile manager configured")
			return
		}
		names, err := r.profiles.ListProfiles()
		if err != nil {
			fmt.Fprintf(out, "error: listing profiles: %v\n", err)
			return
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
	default:
		fmt.Fprintf(out, "unknown command %q\n", fields[0])
	}
}

func (r *REPL) renderToolList() string {
	byCategory := map[string][]*toolsurface.Tool{}
	var categories []string
	for _, t := range r.registry.List() {
		if _, seen := byCategory[t.Category]; !seen {
			categories = append(categories, t.Category)
		}
		byCategory[t.Category] = append(byCategory[t.Category], t)
	}
	sort.Strings(categories)

	var md strings.Builder
	md.WriteString("# Tool Surface\n\n")
	for _, category := range categories {
		fmt.Fprintf(&md, "## %s\n\n", category)
		for _, t := range byCategory[category] {
			ro := ""
			if t.ReadOnly {
				ro = " (read-only)"
			}
			fmt.Fprintf(&md, "- **%s**%s: %s\n", t.Name, ro, t.Description)
		}
		md.WriteString("\n")
	}
	rendered, err := termmd.RenderMarkdown(md.String())
	if err != nil {
		r.log.Debug("rendering tool list", zap.Error(err))
		return md.String()
	}
	return rendered
}

// splitToolLine splits "tool_name {json}" into its name and the raw JSON
// text, defaulting to an empty object when the line is a bare tool name.
func splitToolLine(line string) (name, argsText string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

func formatErr(err error) string {
	if e, ok := gwerr.As(err); ok {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	return err.Error()
}
