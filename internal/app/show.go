package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"vortex-ramp/internal/model"
	"vortex-ramp/internal/ramp"
)

// Show prints recent ramps.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	svc, _ := a.newService(store)

	ramps, err := svc.RecentRamps(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(ramps) == 0 {
		fmt.Fprintln(os.Stdout, "no ramps found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tRamp\tType\tFrom\tTo\tPhase\tStatus\tReason")

	for _, state := range ramps {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			state.CreatedAt.UTC().Format(time.RFC3339),
			state.ID,
			state.Type,
			state.From,
			state.To,
			state.CurrentPhase,
			ramp.ProjectStatus(state.CurrentPhase),
			sanitizeInline(state.StateString(model.StateKeyFailureReason)),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
