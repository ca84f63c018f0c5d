package sasquatch

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	// maxBarWidth limits the progress bar size so that extremely wide
	// terminals don't allocate a huge bar. The actual width used is
	// calculated dynamically based on the terminal size and other
	// displayed information.
	maxBarWidth  = 60
	updatePeriod = time.Second / 4
)

// progressOut is where the bar is drawn; stdout is left for listings.
var progressOut = os.Stderr

func getLineWidth() int {
	if w, _, err := term.GetSize(int(progressOut.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

type sample struct {
	timestamp time.Time
	bytes     int64
}

type progressData struct {
	enabled          bool
	current, written atomic.Int64
	total            int64
	files            int64
	filesDone        atomic.Int64
	speedWindow      []sample
	speedWindowSize  time.Duration
	startTime        time.Time
	lastPrintStr     string
	file             atomic.Value
}

func progressTicker(p *progressData) (*progressData, chan struct{}, chan struct{}) {
	done := make(chan struct{})
	finished := make(chan struct{})
	if !p.enabled {
		close(finished)
		return p, done, finished
	}

	p.startTime = time.Now()

	go func() {
		ticker := time.NewTicker(updatePeriod)
		defer ticker.Stop()
		defer close(finished)

		for {
			select {
			case <-ticker.C:
				printProgress(p)
			case <-done:
				printProgress(p)
				fmt.Fprint(progressOut, "\n")
				return
			}
		}
	}()

	return p, done, finished
}

func printProgress(p *progressData) {
	out := p.render(time.Now(), getLineWidth())
	// Print only if changed (reduce flicker)
	if out != p.lastPrintStr {
		fmt.Fprintf(progressOut, "\r\033[K%s", out)
		p.lastPrintStr = out
	}
}

// fraction is the share of file bytes extracted so far, capped at 1.
func (p *progressData) fraction() float64 {
	if p.total <= 0 {
		return 1
	}
	return min(float64(p.current.Load())/float64(p.total), 1)
}

// speed records a sample and returns the rate over the moving window, or
// the overall average once everything is written.
func (p *progressData) speed(now time.Time) float64 {
	written := p.written.Load()
	p.speedWindow = append(p.speedWindow, sample{timestamp: now, bytes: written})
	cutoff := now.Add(-p.speedWindowSize)
	i := 0
	for i < len(p.speedWindow) && !p.speedWindow[i].timestamp.After(cutoff) {
		i++
	}
	p.speedWindow = p.speedWindow[i:]

	if p.fraction() >= 1 {
		if elapsed := now.Sub(p.startTime).Seconds(); !p.startTime.IsZero() && elapsed > 0 {
			return float64(written) / elapsed
		}
		return 0
	}
	if len(p.speedWindow) < 2 {
		return 0
	}
	first, last := p.speedWindow[0], p.speedWindow[len(p.speedWindow)-1]
	seconds := last.timestamp.Sub(first.timestamp).Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / seconds
}

// render builds one progress line that fits in width columns:
// "[====    ] 42.00% 3/7 files 1.2 MB/10 MB 800 kB/s busybox".
func (p *progressData) render(now time.Time, width int) string {
	frac := p.fraction()
	speed := p.speed(now)
	fileName, _ := p.file.Load().(string)
	info := fmt.Sprintf(" %3.2f%% %d/%d files %v/%v %v/s %s", frac*100,
		p.filesDone.Load(), p.files,
		humanize.Bytes(uint64(p.current.Load())), humanize.Bytes(uint64(p.total)),
		humanize.Bytes(uint64(speed)), path.Base(fileName))

	barWidth := max(min(width-len(info)-2, maxBarWidth), 0) // 2 for the surrounding []
	filled := min(int(frac*float64(barWidth)), barWidth)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled) + "]" + info
}

// progressWriter counts bytes passed through to w. A nil p counts nothing.
type progressWriter struct {
	w io.Writer
	p *progressData
}

func (pw progressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	if pw.p != nil {
		pw.p.current.Add(int64(n))
		pw.p.written.Add(int64(n))
	}
	return n, err
}
