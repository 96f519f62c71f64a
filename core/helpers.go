package bridge

import (
	"context"
	"fmt"
)

// guard runs a session worker under errgroup. A panic or an error drains the
// session with CauseInternal instead of escaping Run, so the group always
// waits for the remaining workers.
func (s *Session) guard(ctx context.Context, name string, run func(context.Context) error) func() error {
	return func() (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("%s worker panicked: %v", name, recovered)
			}
			if err != nil {
				s.logger.Error("bridge worker failed", "worker", name, "error", err)
				s.drain(CauseInternal, err)
			}
			err = nil
		}()

		if err := run(ctx); err != nil {
			return fmt.Errorf("%s worker failed: %w", name, err)
		}
		return nil
	}
}
