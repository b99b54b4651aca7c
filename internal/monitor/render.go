package monitor

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/ringxfer/internal/util"
)

// Render formats a Status as a pterm table followed by the list of connected
// senders.
func Render(st Status) (string, error) {
	occupied := st.Buffer.Occupied()
	rows := [][]string{
		{"Field", "Value"},
		{"Time", st.Time.Format("15:04:05")},
		{"Processor", st.Processor},
		{"Buffer", st.Buffer.String()},
		{"Occupied", fmt.Sprintf("%d/%d", occupied, st.Buffer.Capacity)},
		{"Pending", fmt.Sprintf("%d", st.Buffer.Pending)},
		{"Received", util.FormatBytes(float64(st.Stats.BytesRecv))},
		{"Enqueued", fmt.Sprintf("%d", st.Stats.Enqueued)},
		{"Dropped", fmt.Sprintf("%d", st.Stats.Dropped)},
		{"Processed", fmt.Sprintf("%d", st.Stats.Processed)},
		{"Senders", fmt.Sprintf("%d", len(st.Sessions))},
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return "", err
	}

	for _, s := range st.Sessions {
		table += fmt.Sprintf("\n  [%08x] %s, connected %s", s.ID, s.Peer, st.Time.Sub(s.Started).Truncate(time.Second))
	}
	return table, nil
}
