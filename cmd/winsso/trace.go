package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/rodaine/table"
)

var (
	success = color.New(color.FgGreen, color.Bold).SprintfFunc()
	errorf  = color.New(color.FgRed, color.Bold).SprintfFunc()
)

// leg is one request/response pair seen on the wire.
type leg struct {
	status        int
	authorization string
	challenge     string
}

// traceTransport records every request it forwards to next.
type traceTransport struct {
	next http.RoundTripper

	mu   sync.Mutex
	legs []leg
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)

	l := leg{authorization: summarize(req.Header.Get("Authorization"))}
	if resp != nil {
		l.status = resp.StatusCode
		l.challenge = summarize(strings.Join(resp.Header.Values("WWW-Authenticate"), ", "))
	}
	t.mu.Lock()
	t.legs = append(t.legs, l)
	t.mu.Unlock()

	return resp, err
}

func (t *traceTransport) print(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tbl := table.New("Leg", "Status", "Authorization", "WWW-Authenticate").WithWriter(w)
	tbl.WithHeaderFormatter(color.New(color.FgGreen, color.Underline).SprintfFunc()).
		WithFirstColumnFormatter(color.New(color.FgYellow).SprintfFunc())
	for i, l := range t.legs {
		status := "-"
		if l.status != 0 {
			status = fmt.Sprint(l.status)
		}
		tbl.AddRow(i+1, status, l.authorization, l.challenge)
	}
	fmt.Fprintln(w)
	tbl.Print()
	fmt.Fprintln(w)
}

// summarize shortens each "<scheme> <token>" to the scheme and token length.
func summarize(v string) string {
	if v == "" {
		return "-"
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		fields := strings.Fields(p)
		switch {
		case len(fields) == 0:
			parts[i] = ""
		case len(fields) == 2 && !strings.Contains(strings.TrimRight(fields[1], "="), "="):
			parts[i] = fmt.Sprintf("%s <%d chars>", fields[0], len(fields[1]))
		default:
			parts[i] = strings.TrimSpace(p)
		}
	}
	return strings.Join(parts, ", ")
}
