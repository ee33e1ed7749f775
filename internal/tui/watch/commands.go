package watch

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dsj7419/qa-doc-convert/internal/api"
	"github.com/dsj7419/qa-doc-convert/internal/events"
	"github.com/dsj7419/qa-doc-convert/internal/history"
)

// --- Message types ---

type eventMsg events.Event

type statusMsg api.StatusResponse

type runsMsg []history.Run

type tickMsg time.Time

type errMsg error

type streamEndedMsg struct{ lastID int64 }

type reconnectMsg struct{}

type noticeMsg string

const requestTimeout = 3 * time.Second

// --- Commands ---

// subscribe streams /events into ch from lastID on, returning
// streamEndedMsg when the connection drops.
func subscribe(ctx context.Context, c *api.Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		last, _ := c.Stream(ctx, lastID, func(ev events.Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
		return streamEndedMsg{lastID: last}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchStatus(ctx context.Context, c *api.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		st, err := c.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(st)
	}
}

func fetchRuns(ctx context.Context, c *api.Client, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		runs, err := c.Runs(ctx, limit)
		if err != nil {
			return errMsg(err)
		}
		return runsMsg(runs)
	}
}

// requestStop blocks for up to the server's stop timeout.
func requestStop(ctx context.Context, c *api.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := c.StopTraining(ctx, 0)
		if err != nil {
			return errMsg(err)
		}
		return noticeMsg("stop: " + string(resp.Outcome))
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}
