package session

import (
	"fmt"
	"time"

	"github.com/1ureka/ringxfer/internal/util"
)

const megabyte = 1 << 20

// SendReport summarizes one sender run.
type SendReport struct {
	Sent         int
	Requested    int
	Bytes        int64
	AvgBandwidth float64 // MB/s, as reported back by the receiver
	Elapsed      time.Duration
	Aborted      bool
}

func (r SendReport) String() string {
	return fmt.Sprintf("%d/%d packets sent", r.Sent, r.Requested)
}

// Log prints the human-readable summary.
func (r SendReport) Log(id uint32) {
	if r.Aborted {
		util.LogError("[%08x] unknown signal from receiver, terminating with %s", id, r)
	} else {
		util.LogSuccess("[%08x] %s, closing connection", id, r)
	}
	util.LogSummary(fmt.Sprintf("Sender %08x", id), [][2]string{
		{"Packets", r.String()},
		{"Total data sent", fmt.Sprintf("%.2f MB", float64(r.Bytes)/megabyte)},
		{"Average bandwidth", fmt.Sprintf("%.1f MB/s", r.AvgBandwidth)},
		{"Total time", fmt.Sprintf("%.1f s", r.Elapsed.Seconds())},
	})
}

// RecvReport summarizes one receiver session.
type RecvReport struct {
	Received     int // packets committed to the buffer
	Read         int // packets read off the wire
	Dropped      int // packets rejected by the integrity check
	Expected     int
	Bytes        int64
	AvgBandwidth float64 // MB/s
	Elapsed      time.Duration
}

func (r RecvReport) String() string {
	return fmt.Sprintf("%d/%d packets received", r.Received, r.Expected)
}

// Log prints the human-readable summary.
func (r RecvReport) Log(id uint32) {
	if r.Received != r.Read {
		util.LogWarning("[%08x] some packets were not received", id)
	}
	util.LogInfo("[%08x] %s, closing connection", id, r)
	util.LogSummary(fmt.Sprintf("Receiver %08x", id), [][2]string{
		{"Packets", r.String()},
		{"Dropped", fmt.Sprintf("%d", r.Dropped)},
		{"Total data received", fmt.Sprintf("%.2f MB", float64(r.Bytes)/megabyte)},
		{"Average bandwidth", fmt.Sprintf("%.1f MB/s", r.AvgBandwidth)},
		{"Total time", fmt.Sprintf("%.1f s", r.Elapsed.Seconds())},
	})
}

// percent returns done/total as a whole percentage, 0 when total is 0.
func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return 100 * done / total
}

// bandwidth converts a packet size and transit time into MB/s. A zero or
// negative transit time, possible with coarse clocks or bias drift, yields 0.
func bandwidth(bytes int, transitMs int64) float64 {
	if transitMs <= 0 {
		return 0
	}
	return float64(bytes) / float64(transitMs) / 1000
}
