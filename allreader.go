package streamstore

import "context"

// readAllGapped is the forward all-read with gap detection.
//
// The global position sequence may look sparse while a transaction that
// reserved positions has not committed yet. Emitting such a page would let a
// subscriber see position p and p+2, and later miss p+1 when the transaction
// commits. So: when a full page contains a gap, wait gapReloadDelay and read
// it again, up to gapReloadTimes times. A gap that survives every reload
// belongs to a rolled-back transaction and the page is returned as-is.
//
// Short pages skip detection: the tail of the log is allowed to be sparse
// because nothing has been emitted past it yet.
func (s *Store) readAllGapped(ctx context.Context, from int64, count int) ([]Message, error) {
	messages, err := s.driver.ReadAll(ctx, from, count, Forward)
	if err != nil {
		return nil, err
	}

	for reload := 0; reload < s.gapReloadTimes; reload++ {
		if count == 0 || len(messages) < count || !hasPositionGap(messages) {
			return messages, nil
		}

		s.log.Debug("position gap in all-stream page, reloading",
			"from", from, "reload", reload+1)
		s.metrics.gapReloads.Inc()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(s.gapReloadDelay):
		}

		reloaded, err := s.driver.ReadAll(ctx, from, count, Forward)
		if err != nil {
			// No further retry on a reload failure; the page we already
			// hold is still a valid read.
			s.log.Warn("all-stream gap reload failed", "error", err)
			return messages, nil
		}
		messages = reloaded
	}
	return messages, nil
}

func hasPositionGap(messages []Message) bool {
	for i := 1; i < len(messages); i++ {
		if messages[i].Position-messages[i-1].Position > 1 {
			return true
		}
	}
	return false
}
