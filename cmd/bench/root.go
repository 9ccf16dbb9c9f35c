package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/cedar/cmd/util"
	"github.com/ValentinKolb/cedar/lib/engine"
)

var (
	// BenchCmd measures the throughput and latency of an embedded engine
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for the cedar engine",
		RunE:    run,
		PreRunE: processBenchConfig,
	}

	benchTable      = "bench"
	benchKeyPrefix  = "__bench"
	benchNumThreads = 10
	benchKeySpread  = 1000
	benchValueSize  = 1024
	benchOps        = 100_000
	benchSkip       = make([]string, 0)
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// The bench runs against an embedded engine, so it takes the full
	// engine configuration
	util.SetupEngineFlags(BenchCmd)

	// add flags
	key := "skip"
	BenchCmd.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. write,scan)"))
	key = "threads"
	BenchCmd.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	BenchCmd.PersistentFlags().Int(key, 1024, util.WrapString("Size of the written values (in bytes)"))
	key = "keys"
	BenchCmd.PersistentFlags().Int(key, 1000, util.WrapString("How many different keys to use for the tests"))
	key = "ops"
	BenchCmd.PersistentFlags().Int(key, 100000, util.WrapString("Number of operations per benchmark"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics-addr"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional address to expose the engine's Prometheus metrics on while the benchmark runs (e.g. localhost:9091)"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchNumThreads = viper.GetInt("threads")
	benchKeySpread = viper.GetInt("keys")
	benchValueSize = viper.GetInt("value-size")
	benchOps = viper.GetInt("ops")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the cedar engine")

	opts := util.GetEngineOptions()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create engine directory: %v", err)
	}

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Dir:            %s\n", opts.Dir)
	fmt.Printf("Memory limit:   %d MB\n", opts.OnHeapLimit/(1024*1024))
	fmt.Printf("Sync interval:  %s\n", opts.SyncPollInterval)
	fmt.Printf("Strict sync:    %v\n", opts.WaitOnDiskSync)
	fmt.Printf("Threads:        %d\n", benchNumThreads)
	fmt.Printf("Keys:           %d\n", benchKeySpread)
	fmt.Printf("Value size:     %d B\n", benchValueSize)
	fmt.Printf("Ops/benchmark:  %d\n", benchOps)
	fmt.Println()

	// Optionally expose the engine's gauges while the benchmark runs
	if addr := viper.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			vmetrics.WritePrometheus(w, true)
		})
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics endpoint failed: %v", err)
			}
		}()
		fmt.Printf("Serving metrics on http://%s/metrics\n\n", addr)
	}

	e, err := engine.New(opts)
	if err != nil {
		return fmt.Errorf("failed to open engine: %v", err)
	}
	defer e.Close()

	fmt.Println("starting benchmarks...")
	fmt.Println()
	fmt.Printf("%-12s%12s%12s%12s%12s%14s\n", "benchmark", "mean", "p50", "p95", "p99", "ops/sec")

	value := make([]byte, benchValueSize)
	results := make(map[string]gometrics.Timer)

	results["write"] = runWorkload("write", func(i int) error {
		return e.Write(benchTable, key("write", i), value)
	})

	results["overwrite"] = runWorkload("overwrite", func(i int) error {
		// hammer a small key range so every write replaces a live entry
		return e.Write(benchTable, key("overwrite", i%16), value)
	})

	results["read"] = runWorkload("read", func(i int) error {
		e.Get(benchTable, key("write", i))
		return nil
	})

	results["scan"] = runWorkload("scan", func(i int) error {
		count := 0
		return e.AscendRange(benchTable, keyPrefix("write"), keyPrefix("write")+"\xff",
			func(string, []byte) bool {
				count++
				return count < 100
			})
	})

	results["mixed"] = runWorkload("mixed", func(i int) error {
		switch i % 4 {
		case 0, 1:
			e.Get(benchTable, key("write", i))
			return nil
		case 2:
			return e.Write(benchTable, key("mixed", i), value)
		default:
			return e.Write(benchTable, key("mixed", i%16), value)
		}
	})

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func key(prefix string, i int) string {
	return fmt.Sprintf("%s-%06d", keyPrefix(prefix), i%benchKeySpread)
}

func keyPrefix(prefix string) string {
	return fmt.Sprintf("%s/%s", benchKeyPrefix, prefix)
}

// runWorkload spreads benchOps calls of fn over benchNumThreads goroutines
// and records the latency of every call.
func runWorkload(name string, fn func(i int) error) gometrics.Timer {
	timer := gometrics.NewTimer()
	if shouldSkip(name) {
		printResult(name, timer)
		return timer
	}

	var wg sync.WaitGroup
	perThread := benchOps / benchNumThreads
	for t := 0; t < benchNumThreads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			for i := t * perThread; i < (t+1)*perThread; i++ {
				start := time.Now()
				if err := fn(i); err != nil {
					log.Printf("(%s) - operation failed: %v", name, err)
				}
				timer.UpdateSince(start)
			}
		}(t)
	}
	wg.Wait()

	printResult(name, timer)
	return timer
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, timer gometrics.Timer) {
	if timer.Count() == 0 {
		fmt.Printf("%-12sskipped\n", test)
		return
	}

	ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Printf("%-12s%12s%12s%12s%12s%14.0f\n",
		test,
		time.Duration(timer.Mean()),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
		timer.RateMean(),
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]gometrics.Timer) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Ops", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "OpsPerSec", "Skipped",
		"Threads", "ValueSizeB", "KeysCount",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, timer := range results {
		skipped := timer.Count() == 0
		ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})

		row := []string{
			test,
			strconv.FormatInt(timer.Count(), 10),
			fmt.Sprintf("%.0f", timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			fmt.Sprintf("%.0f", timer.RateMean()),
			strconv.FormatBool(skipped),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchValueSize),
			strconv.Itoa(benchKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %v", err)
		}
	}

	return nil
}
