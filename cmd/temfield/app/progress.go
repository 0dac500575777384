package app

import (
	"context"
	"fmt"
	"time"

	"github.com/theckman/yacspin"

	"github.com/roman-kulish/temfield/internal/control"
	"github.com/roman-kulish/temfield/internal/sequencer"
	"github.com/roman-kulish/temfield/internal/sweep"
)

const progressInterval = 250 * time.Millisecond

// showProgress renders the sweep progress on the terminal until ctx is done
func showProgress(ctx context.Context, ctrl *control.Controller) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " sweep",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return fmt.Errorf("creating spinner: %w", err)
	}

	if err = spinner.Start(); err != nil {
		return fmt.Errorf("starting spinner: %w", err)
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			spinner.StopFailMessage("interrupted")
			return spinner.StopFail()

		case <-ticker.C:
			status, err := ctrl.Status(ctx)
			if err != nil {
				continue
			}
			spinner.Message(progressMessage(status.Progress))
			if status.Progress.State == sequencer.StateComplete {
				spinner.StopMessage(fmt.Sprintf("%d points", status.Progress.Total))
				return spinner.Stop()
			}
		}
	}
}

func progressMessage(p sequencer.Snapshot) string {
	msg := fmt.Sprintf("%s %d/%d, ETA %s", p.State, p.Done, p.Total, sweep.FormatETA(p.ETA))
	if p.Current != nil {
		msg += ", " + sweep.FormatHz(*p.Current)
	}
	return msg
}
