// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"fmt"
	"html"
	"net/http"
	"strings"
)

// --- HTML templates ---

const pageStyle = `<style>
  body { font-family: system-ui, -apple-system, sans-serif; max-width: 900px;
         margin: 0 auto; padding: 40px 20px 0; color: #2c2c1e; background: #faf8f0; }
  h1 { color: #2d5016; margin-bottom: 4px; font-weight: 700; }
  .meta { color: #6b6b5a; font-size: 0.9em; }
  code { font-family: monospace; background: #f0ece0; padding: 2px 6px;
          border-radius: 3px; font-size: 0.9em; }
  a { color: #2d5016; text-decoration: none; }
  .card { border: 1px solid #f0ece0; border-radius: 8px; padding: 16px 20px;
           margin-bottom: 16px; background: #fff; }
  .fn-name { font-family: monospace; font-size: 1.1em; font-weight: 600; color: #2d5016; }
  table { width: 100%; border-collapse: collapse; font-size: 0.9em; margin-top: 10px; }
  th { text-align: left; padding: 6px 10px; background: #f0ece0; }
  td { padding: 6px 10px; border-bottom: 1px solid #f0ece0; }
  .no-params { color: #6b6b5a; font-style: italic; font-size: 0.9em; }
  footer { text-align: center; margin-top: 48px; padding: 20px 0;
            border-top: 1px solid #f0ece0; color: #6b6b5a; font-size: 0.85em; }
</style>`

const landingHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s &mdash; vtab</title>
%s
</head>
<body>
<h1>%s</h1>
<p class="meta">session <code>%s</code> &middot; server <code>%s</code></p>
<p>Table functions are called with <code>POST %s/&lt;function&gt;</code> and an
Arrow IPC request stream. The catalog is available at <code>POST %s/%s</code>.</p>
%s
<footer>&copy; 2026 <a href="https://query.farm">Query.Farm LLC</a></footer>
</body>
</html>`

const notFoundHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>404 &mdash; vtab endpoint</title>
%s
</head>
<body>
<h1>404 &mdash; Not Found</h1>
<p>This is a <code>vtab</code> table function endpoint. Functions are listed at
<a href="%s"><code>%s</code></a>.</p>
</body>
</html>`

// --- Page builders ---

func buildLandingHTML(s *Session, prefix, title, serverID string) []byte {
	var cards strings.Builder
	functions := s.Functions()
	if len(functions) == 0 {
		cards.WriteString(`<p class="no-params">No table functions registered</p>`)
	}
	for _, fn := range functions {
		buildFunctionCard(&cards, fn)
	}
	return []byte(fmt.Sprintf(landingHTMLTemplate,
		html.EscapeString(title), // <title>
		pageStyle,
		html.EscapeString(title), // <h1>
		html.EscapeString(s.ID()),
		html.EscapeString(serverID),
		html.EscapeString(prefix),
		html.EscapeString(prefix),
		DescribeFunction,
		cards.String(),
	))
}

func buildFunctionCard(w *strings.Builder, fn Function) {
	w.WriteString(`<div class="card">`)
	args := make([]string, len(fn.Parameters))
	for i, t := range fn.Parameters {
		args[i] = t.String()
	}
	fmt.Fprintf(w, `<span class="fn-name">%s(%s)</span>`,
		html.EscapeString(fn.Name), html.EscapeString(strings.Join(args, ", ")))

	if len(fn.NamedParameters) > 0 {
		w.WriteString(`<table><tr><th>Named parameter</th><th>Type</th></tr>`)
		for _, k := range sortedKeys(fn.NamedParameters) {
			fmt.Fprintf(w, `<tr><td><code>%s</code></td><td><code>%s</code></td></tr>`,
				html.EscapeString(k),
				html.EscapeString(fn.NamedParameters[k].String()),
			)
		}
		w.WriteString(`</table>`)
	}
	w.WriteString("</div>\n")
}

func buildNotFoundHTML(prefix string) []byte {
	return []byte(fmt.Sprintf(notFoundHTMLTemplate, pageStyle,
		html.EscapeString(prefix), html.EscapeString(prefix)))
}

// --- HTTP handlers ---

func (h *HttpServer) handleLandingPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buildLandingHTML(h.server.session, h.prefix, h.title, h.server.serverID))
}

func (h *HttpServer) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(buildNotFoundHTML(h.prefix))
}
