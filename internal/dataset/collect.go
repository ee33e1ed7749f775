package dataset

import (
	"fmt"
	"unicode/utf8"
)

// collectReportEvery is how many additions pass between progress reports.
const collectReportEvery = 10

// Collect adds every classified item from a processed document with source
// "document". Unclassified, short and already-labeled items are counted and
// skipped. The dataset is saved once at the end; on save failure all
// additions are undone. report may be nil.
func (s *Store) Collect(items []LabeledItem, report func(msg string)) (CollectResult, error) {
	if report == nil {
		report = func(string) {}
	}
	report(fmt.Sprintf("Collecting training data from %d items...", len(items)))

	var res CollectResult

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()

	for _, item := range items {
		if item.Role == "" {
			res.SkippedUndetermined++
			continue
		}
		role, err := ParseRole(string(item.Role))
		if err != nil {
			res.SkippedUndetermined++
			continue
		}
		if utf8.RuneCountInString(item.Text) < s.opts.MinTextLength {
			res.SkippedShort++
			continue
		}
		if current, ok := s.index[item.Text]; ok && current == role {
			res.SkippedDuplicate++
			continue
		}

		s.putLocked(item.Text, role, SourceDocument)
		res.Added++
		if res.Added%collectReportEvery == 0 {
			report(fmt.Sprintf("Added %d examples so far...", res.Added))
		}
	}

	if res.Added == 0 {
		report(fmt.Sprintf("No new examples added (skipped: %d undetermined, %d too short, %d duplicates)",
			res.SkippedUndetermined, res.SkippedShort, res.SkippedDuplicate))
		return res, nil
	}

	if err := s.saveLocked(); err != nil {
		s.restoreLocked(snap)
		report("Failed to save training data")
		return CollectResult{}, err
	}
	report(fmt.Sprintf("Added %d new training examples", res.Added))
	s.logger.Info("examples collected", "added", res.Added, "skipped_undetermined", res.SkippedUndetermined,
		"skipped_short", res.SkippedShort, "skipped_duplicate", res.SkippedDuplicate)
	return res, nil
}
