// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dagrunner/pipeliner/statusapi"
)

// eventMsg wraps one statusapi.Event as a tea.Msg so the connection
// goroutine can feed the UI loop.
type eventMsg statusapi.Event

// connErrMsg reports the watch connection dropping.
type connErrMsg struct{ err error }

func runWatch(cmd *cobra.Command, args []string) {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "pipelinectl: watch requires a terminal; stdout is not one")
		os.Exit(1)
	}

	wsURL, err := eventsURL(watchAddr)
	if err != nil {
		slog.Error("pipelinectl: watch", "error", err)
		os.Exit(1)
	}

	model := newWatchModel(wsURL)
	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		slog.Error("pipelinectl: watch exited", "error", err)
		os.Exit(1)
	}
}

// eventsURL rewrites a --addr value (e.g. http://localhost:8080 or
// localhost:8080) into the ws(s)://.../events endpoint statusapi serves.
func eventsURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("pipelinectl: parsing --addr %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/events"
	return u.String(), nil
}

// watchModel renders a scrolling log of job-state transitions received
// over the statusapi websocket stream.
type watchModel struct {
	wsURL  string
	events []statusapi.Event
	status string
	width  int
	height int
}

func newWatchModel(wsURL string) watchModel {
	return watchModel{wsURL: wsURL, status: "connecting..."}
}

func (m watchModel) Init() tea.Cmd {
	return connectCmd(m.wsURL)
}

// connectCmd dials the websocket and returns a tea.Cmd that blocks on
// the first message; each subsequent message is chained the same way
// from within Update, since bubbletea commands run once and return.
func connectCmd(wsURL string) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return connErrMsg{err: fmt.Errorf("dialing %s: %w", wsURL, err)}
		}
		return readNext(conn)()
	}
}

func readNext(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		var ev statusapi.Event
		if err := conn.ReadJSON(&ev); err != nil {
			conn.Close()
			return connErrMsg{err: err}
		}
		return pendingRead{conn: conn, event: ev}
	}
}

// pendingRead carries both the just-decoded event and the live
// connection, so Update can immediately schedule the next read without
// redialing.
type pendingRead struct {
	conn  *websocket.Conn
	event statusapi.Event
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case pendingRead:
		m.status = "connected"
		m.events = append(m.events, msg.event)
		if max := m.height - 4; max > 0 && len(m.events) > max {
			m.events = m.events[len(m.events)-max:]
		}
		return m, readNext(msg.conn)

	case connErrMsg:
		m.status = fmt.Sprintf("disconnected: %v", msg.err)
		return m, nil
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pipelinectl watch — %s — %s\n\n", m.wsURL, m.status)
	for _, ev := range m.events {
		fmt.Fprintf(&b, "%s  %-9s  %s\n", ev.Timestamp.Format(time.TimeOnly), ev.State, ev.JobID)
	}
	b.WriteString("\n(q to quit)\n")
	return b.String()
}
