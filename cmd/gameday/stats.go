package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nghyane/gameday-net/pkg/gameday"
)

func doStats(ctx context.Context, client *gameday.Client, since time.Duration) error {
	p := client.Usage()
	if p == nil {
		return errors.New("usage recording is disabled (set usage.enabled in the config)")
	}
	sums, err := p.Summarize(ctx, time.Now().Add(-since))
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		fmt.Println("no requests recorded")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tREQUESTS\tATTEMPTS\tFAILURES\tAVG MS\tERRORS")
	for _, s := range sums {
		kinds := make([]string, 0, len(s.ErrorKinds))
		for k, n := range s.ErrorKinds {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(kinds)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.1f\t%s\n", s.Method, s.Path, s.Requests, s.Attempts, s.Failures, s.AvgLatencyMS, strings.Join(kinds, " "))
	}
	return tw.Flush()
}
