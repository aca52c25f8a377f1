package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/llamagram/internal/telegraph"
	"github.com/zulandar/llamagram/internal/worker"
)

// DigestReport summarizes the bot's activity over a period.
type DigestReport struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Served      uint64
	Failed      uint64
	QueueDepth  int
}

// FormatDigest renders a report as a chat message.
func FormatDigest(r DigestReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity %s to %s\n",
		r.PeriodStart.Format("Jan 2 15:04"), r.PeriodEnd.Format("Jan 2 15:04"))
	fmt.Fprintf(&b, "Answered: %d\n", r.Served)
	fmt.Fprintf(&b, "Failed: %d\n", r.Failed)
	if total := r.Served + r.Failed; total > 0 {
		fmt.Fprintf(&b, "Success rate: %.0f%%\n", 100*float64(r.Served)/float64(total))
	}
	fmt.Fprintf(&b, "Waiting now: %d", r.QueueDepth)
	return b.String()
}

// digester builds activity digests from deltas of the worker counters.
type digester struct {
	stats      func() worker.Stats
	queueDepth func() int

	last   worker.Stats
	lastAt time.Time
}

func newDigester(stats func() worker.Stats, queueDepth func() int, now time.Time) *digester {
	return &digester{stats: stats, queueDepth: queueDepth, last: stats(), lastAt: now}
}

// next returns the report for the period since the previous call, or nil
// when no job finished in it.
func (d *digester) next(now time.Time) *DigestReport {
	cur := d.stats()
	report := &DigestReport{
		PeriodStart: d.lastAt,
		PeriodEnd:   now,
		Served:      cur.Served - d.last.Served,
		Failed:      cur.Failed - d.last.Failed,
		QueueDepth:  d.queueDepth(),
	}
	d.last, d.lastAt = cur, now
	if report.Served == 0 && report.Failed == 0 {
		return nil
	}
	return report
}

// runDigestScheduler posts a digest to the configured channel each time the
// cron schedule fires. It returns when ctx is cancelled.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	sched, err := parseSchedule(d.digest.Cron)
	if err != nil {
		log.Printf("bot: digest disabled: %v", err)
		return
	}
	dg := newDigester(d.worker.Stats, d.jobs.Len, time.Now())

	timer := time.NewTimer(untilNext(sched, time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			d.fireDigest(ctx, dg, now)
			timer.Reset(untilNext(sched, time.Now()))
		}
	}
}

// fireDigest builds and sends a single digest.
func (d *Daemon) fireDigest(ctx context.Context, dg *digester, now time.Time) {
	report := dg.next(now)
	if report == nil {
		// No activity, nothing to report.
		return
	}
	if _, err := d.adapter.Send(ctx, telegraph.OutboundMessage{
		ChannelID: d.digest.Channel,
		Text:      FormatDigest(*report),
	}); err != nil {
		log.Printf("bot: send digest: %v", err)
	}
}
