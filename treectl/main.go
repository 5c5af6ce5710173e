package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/bringyour/treestore"
)

const Version = "0.1.0"

func main() {
	usage := `Tree store control.

The modification log is json, one attributed modification per line, e.g.
    {"kind":"set_values","path":"a/b","values":{"x":1},"source":"remote"}

Usage:
    treectl apply [--readonly] [--log=<log>]
    treectl get --path=<path> [--log=<log>]
    treectl watch --path=<path> [--log=<log>]

Options:
    -h --help        Show this screen.
    --version        Show version.
    --log=<log>      Modification log file. Defaults to stdin.
    --path=<path>    '/'-separated tree path.
    --readonly       Refuse local writes while applying.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if apply_, _ := opts.Bool("apply"); apply_ {
		apply(opts)
	} else if get_, _ := opts.Bool("get"); get_ {
		get(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func openLog(opts docopt.Opts) *os.File {
	if logPathAny := opts["--log"]; logPathAny != nil {
		logFile, err := os.Open(logPathAny.(string))
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not open log: %s\n", err)
			os.Exit(1)
		}
		return logFile
	}
	return os.Stdin
}

func newDatabase(opts docopt.Opts) *treestore.TreeDatabase {
	settings := treestore.DefaultTreeDatabaseSettings()
	if readonly, _ := opts.Bool("--readonly"); readonly {
		settings.Readonly = readonly
	}
	return treestore.NewTreeDatabase(settings)
}

func apply(opts docopt.Opts) {
	logFile := openLog(opts)
	defer logFile.Close()

	database := newDatabase(opts)
	count, err := database.ApplyModificationLog(logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apply failed after %d modification(s): %s\n", count, err)
		os.Exit(1)
	}
	fmt.Printf("applied %d modification(s)\n", count)

	projection, err := json.Marshal(database.Reference("").Snapshot().ToJson())
	if err != nil {
		fmt.Fprintf(os.Stderr, "projection failed: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", projection)
}

// applies the log and resolves the first value at `path`. the pending get
// starts before the log applies so a value created by the log resolves it.
// once the log ends, a path it never created can never resolve, so that
// case fails instead of waiting.
func applyAndGetValue(database *treestore.TreeDatabase, path string, logReader io.Reader) (any, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type getResult struct {
		value any
		err   error
	}
	results := make(chan getResult, 1)
	go func() {
		value, err := database.Reference(path).GetValue(ctx)
		results <- getResult{value: value, err: err}
	}()

	if _, err := database.ApplyModificationLog(logReader); err != nil {
		return nil, err
	}

	if database.Reference(path).Snapshot() == nil {
		cancel()
		result := <-results
		if result.err != nil {
			return nil, fmt.Errorf("path %q was never created by the log", path)
		}
		// the value resolved before the path was removed again
		return result.value, nil
	}

	result := <-results
	return result.value, result.err
}

func get(opts docopt.Opts) {
	path, _ := opts.String("--path")

	logFile := openLog(opts)
	defer logFile.Close()

	database := newDatabase(opts)

	value, err := applyAndGetValue(database, path, logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get failed: %s\n", err)
		os.Exit(1)
	}

	out, err := json.Marshal(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "projection failed: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", out)
}

func watch(opts docopt.Opts) {
	path, _ := opts.String("--path")

	logFile := openLog(opts)
	defer logFile.Close()

	database := newDatabase(opts)

	subscription := database.Reference(path).Changes()
	defer subscription.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for change := range subscription.Changes() {
			projection, err := json.Marshal(change.Snapshot.ToJson())
			if err != nil {
				fmt.Fprintf(os.Stderr, "projection failed: %s\n", err)
				continue
			}
			fmt.Printf("{\"type\":%q,\"key\":%q,\"value\":%s}\n", change.Type, change.Snapshot.Key(), projection)
		}
	}()

	if _, err := database.ApplyModificationLog(logFile); err != nil {
		fmt.Fprintf(os.Stderr, "apply failed: %s\n", err)
		os.Exit(1)
	}

	subscription.Drain()
	<-done
}
