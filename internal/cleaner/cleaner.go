package cleaner

import (
	"errors"
	"fmt"
	"time"

	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
	"github.com/youssefhk-sw/scrape-news/internal/metrics"
	"github.com/youssefhk-sw/scrape-news/internal/storage"
)

type Cleaner struct {
	quarantine *Quarantine
	now        func() time.Time
}

func New(q *Quarantine) *Cleaner {
	return &Cleaner{quarantine: q, now: time.Now}
}

// Partition validates every record. Fully clean records come back normalized
// and in input order. Any other record goes to quarantine whole and
// unmodified. quarantined counts records newly stored, not duplicates.
func (c *Cleaner) Partition(channel string, records []storage.RawRecord) (accepted []storage.RawRecord, quarantined int, err error) {
	log := debuglog.WithFields(map[string]interface{}{"channel": channel})
	accepted = make([]storage.RawRecord, 0, len(records))

	var errs []error
	for _, rec := range records {
		outcome := Validate(rec)
		if outcome.Accepted() {
			accepted = append(accepted, outcome.Record)
			continue
		}

		log.Infof("quarantining %q: not clean %v", rec.Link, outcome.NotCleanFields())
		added, qerr := c.quarantine.Submit(channel, rec, c.now())
		if qerr != nil {
			errs = append(errs, fmt.Errorf("quarantining %q: %w", rec.Link, qerr))
			continue
		}
		if added {
			quarantined++
		}
	}

	metrics.RecordsAccepted.WithLabelValues(channel).Add(float64(len(accepted)))
	metrics.RecordsQuarantined.WithLabelValues(channel).Add(float64(quarantined))
	log.Debugf("%d accepted, %d quarantined of %d", len(accepted), quarantined, len(records))

	return accepted, quarantined, errors.Join(errs...)
}
