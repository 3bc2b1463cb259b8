package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rankeval/rankeval/internal/store"
	"github.com/rankeval/rankeval/internal/tensor"
)

// printTensor writes one line per cell: the coordinates followed by the
// value, "-" for missing cells.
func printTensor(w io.Writer, t *tensor.Tensor) error {
	fmt.Fprintln(w, t.String())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	axes := t.Axes()
	header := make([]string, 0, len(axes)+1)
	for _, a := range axes {
		header = append(header, strings.ToUpper(a.Name))
	}
	header = append(header, "VALUE")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	row := make([]string, len(axes)+1)
	t.Each(func(idx []int, v float64, ok bool) {
		for i, a := range axes {
			row[i] = a.Labels[idx[i]]
		}
		row[len(axes)] = "-"
		if ok {
			row[len(axes)] = strconv.FormatFloat(v, 'g', 6, 64)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	})
	return tw.Flush()
}

func printRun(w io.Writer, rec *store.RunRecord) {
	fmt.Fprintf(w, "Run %s (%s)\n", rec.ID, rec.Experiment)
	fmt.Fprintf(w, "  fingerprint: %s\n", rec.Fingerprint)
	fmt.Fprintf(w, "  started:     %s\n", rec.StartedAt.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ANALYSIS\tKIND\tCOMPUTED\tDURATION\tRESULT")
	for _, a := range rec.Analyses {
		result := a.Key
		if a.Error != "" {
			result = "error: " + a.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", a.Name, a.Kind, a.Computed, a.Duration.Round(time.Millisecond), result)
	}
	tw.Flush()
}

func containsSlash(key string) bool { return strings.Contains(key, "/") }

func trimRunKey(key string) string {
	return strings.TrimSuffix(key, "/_run")
}
