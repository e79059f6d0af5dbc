package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"octbench/internal/dataset"
	"octbench/internal/fsutil"
	"octbench/internal/logging"
	"octbench/internal/tasks"
)

func main() {
	reference := flag.String("reference", "", "reference set name")
	depth := flag.Int("depth", dataset.DefaultNeighborDepth, "neighbour depth for pair planning")
	watch := flag.Duration("watch", 0, "after the report, print scan events for this long")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dataset-inspect [-reference NAME] [-depth N] [-watch 30s] <dataset_dir>")
		os.Exit(2)
	}
	input := flag.Arg(0)

	sets, err := dataset.DiscoverSets(input, *reference)
	if err != nil {
		log.Fatal("Failed to read dataset:", err)
	}
	if sets.ReferenceMissing && *reference != "" {
		fmt.Printf("Reference %q not found under %s\n", *reference, input)
	}

	fmt.Printf("Dataset %s: %d sets\n", input, len(sets.Names))
	counts := map[string]int{}
	for _, name := range sets.Names {
		scans, err := fsutil.ListScans(filepath.Join(input, name))
		if err != nil {
			log.Fatal("Failed to list scans:", err)
		}
		counts[name] = len(scans)
		missing := 0
		for _, s := range scans {
			for _, mt := range dataset.MapTypes[1:] {
				if fsutil.FirstExisting(fsutil.MapPath(s, mt)) == "" {
					missing++
				}
			}
		}
		fmt.Printf("   %-24s %4d scans, %4d missing maps\n", name, len(scans), missing)
	}

	fmt.Printf("\nPlanned comparisons (depth %d):\n", *depth)
	total := 0
	for _, c := range dataset.PlanComparisons(sets.Names, sets.Reference) {
		n := len(dataset.PairIndices(c.Class, counts[c.A], counts[c.B], *depth))
		total += n
		fmt.Printf("   %-40s %-6s %6d pairs\n", c.Tag, c.Class, n)
	}
	fmt.Printf("   %d pairs per map type, %d in total\n", total, total*len(dataset.MapTypes))

	if *watch <= 0 {
		return
	}

	watcher, err := tasks.NewFileSystemWatcher([]string{input}, logging.New("warn", "text"))
	if err != nil {
		log.Fatal("Failed to create watcher:", err)
	}
	if err := watcher.Start(); err != nil {
		log.Fatal("Failed to start watcher:", err)
	}
	defer watcher.Stop()

	fmt.Printf("\nWatching for %s...\n", *watch)
	ctx, cancel := context.WithTimeout(context.Background(), *watch)
	defer cancel()

	eventCount := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("Captured %d events.\n", eventCount)
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			eventCount++
			fmt.Printf("   %s %s (%d bytes)\n", event.Operation, event.Path, event.Size)
		case <-time.After(10 * time.Second):
			fmt.Println("No events in last 10 seconds...")
		}
	}
}
