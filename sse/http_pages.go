// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"fmt"
	"html"
	"net/http"
	"strings"
)

const pageStyle = `<style>
  body { font-family: system-ui, -apple-system, sans-serif; max-width: 760px;
         margin: 40px auto; padding: 0 20px; color: #2c2c1e; }
  h1 { margin-bottom: 4px; }
  .meta { color: #6b6b57; margin-top: 0; }
  table { border-collapse: collapse; width: 100%%; margin-top: 24px; }
  th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #e4e4d8; }
  th { background: #f4f4ec; }
  code { background: #f4f4f4; padding: 2px 6px; border-radius: 3px; font-size: 0.95em; }
</style>`

const landingHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
` + pageStyle + `
</head>
<body>
<h1>%s</h1>
<p class="meta">version %s%s</p>
<p>Execute calls are accepted at <code>POST %s/execute</code>; the capability table at <code>POST %s/describe</code>.</p>
<table>
<tr><th>ID</th><th>Name</th><th>Type</th><th>Parameters</th><th>Returns</th></tr>
%s</table>
</body>
</html>`

const notFoundHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>404 Not Found</title>
` + pageStyle + `
</head>
<body>
<h1>404 Not Found</h1>
<p>This is a server-side extension endpoint. Calls are served under <code>%s/</code>.</p>
</body>
</html>`

func buildLandingHTML(caps Capabilities, prefix, serverID string) []byte {
	var rows strings.Builder
	for _, f := range caps.Functions {
		params := make([]string, len(f.Params))
		for i, p := range f.Params {
			params[i] = fmt.Sprintf("%s %s", html.EscapeString(p.Name), p.Type)
		}
		fmt.Fprintf(&rows, "<tr><td>%d</td><td><code>%s</code></td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			f.ID, html.EscapeString(f.Name), f.Kind.WireType(), strings.Join(params, ", "), f.ReturnType)
	}
	server := ""
	if serverID != "" {
		server = " &middot; server " + html.EscapeString(serverID)
	}
	name := html.EscapeString(caps.PluginIdentifier)
	p := html.EscapeString(prefix)
	return []byte(fmt.Sprintf(landingHTMLTemplate,
		name, name, html.EscapeString(caps.PluginVersion), server, p, p, rows.String()))
}

func (h *HttpServer) handleLandingPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buildLandingHTML(h.engine.Describe(), h.prefix, h.engine.ServerID()))
}

func (h *HttpServer) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprintf(w, notFoundHTMLTemplate, html.EscapeString(h.prefix))
}
