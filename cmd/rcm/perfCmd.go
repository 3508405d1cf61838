package rcm

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/syslink/cmd/util"
	"github.com/ValentinKolb/syslink/rcm/client"
	"github.com/ValentinKolb/syslink/rcm/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the rcm client",
		Long:    "Runs remote functions from many goroutines sharing one client and prints latency and throughput per benchmark",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfCalls      = 1000
	perfRate       = 0.0
	perfDepth      = 4
	perfSkip       = make([]string, 0)
)

// perfResult holds the outcome of one benchmark
type perfResult struct {
	name     string
	skipped  bool
	duration time.Duration
	timer    metrics.Timer
	errors   metrics.Counter
	fairness FairnessStats
}

// benchmark runs one batch of calls, it returns the number of calls done
type benchmark func(idx uint32, arg uint32) (int, error)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. exec,dpc)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines calling through the client"))
	key = "calls"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Number of calls per goroutine and benchmark"))
	key = "rate"
	perfTestCmd.Flags().Float64(key, 0, util.WrapString("Upper limit of calls per second over all goroutines (0 for no limit)"))
	key = "depth"
	perfTestCmd.Flags().Int(key, 4, util.WrapString("Number of requests every goroutine keeps in flight in the pipelined benchmark"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print the client counters in Prometheus text format after the benchmarks"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfCalls = max(viper.GetInt("calls"), 1)
	perfRate = viper.GetFloat64("rate")
	perfDepth = max(viper.GetInt("depth"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the rcm client")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(clientConf.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Calls:   %d per thread\n", perfCalls)
	if perfRate > 0 {
		fmt.Printf("Rate:    %.0f calls/sec\n", perfRate)
	}
	fmt.Println()

	idx, err := rcmClient.GetSymbolIndex("fxnDouble")
	if err != nil {
		return fmt.Errorf("resolve fxnDouble: %w", err)
	}

	fmt.Println("starting tests...")

	results := []*perfResult{
		runBenchmark("exec", idx, benchExec(rcmClient.Exec)),
		runBenchmark("dpc", idx, benchExec(rcmClient.ExecDpc)),
		runBenchmark("pipelined", idx, benchPipelined),
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	if viper.GetBool("metrics") {
		fmt.Println()
		client.WriteMetrics(os.Stdout)
	}

	return nil
}

// runBenchmark calls bench from perfNumThreads goroutines until each did perfCalls calls
func runBenchmark(name string, idx uint32, bench benchmark) *perfResult {
	res := &perfResult{
		name:   name,
		timer:  metrics.NewTimer(),
		errors: metrics.NewCounter(),
	}
	defer res.timer.Stop()

	if shouldSkip(name) {
		res.skipped = true
		printResult(res)
		return res
	}

	limit := rate.Inf
	if perfRate > 0 {
		limit = rate.Limit(perfRate)
	}
	limiter := rate.NewLimiter(limit, perfNumThreads)

	done := make([]float64, perfNumThreads)
	g, ctx := errgroup.WithContext(context.Background())
	start := time.Now()

	for w := 0; w < perfNumThreads; w++ {
		w := w
		g.Go(func() error {
			calls := 0
			for calls < perfCalls {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				t := time.Now()
				n, err := bench(idx, uint32(w*perfCalls+calls))
				if err != nil {
					res.errors.Inc(1)
					if n == 0 {
						return fmt.Errorf("(%s) - thread %d: %w", name, w, err)
					}
				}
				// latency per call, pipelined batches are spread over their calls
				per := time.Since(t) / time.Duration(max(n, 1))
				for i := 0; i < n; i++ {
					res.timer.Update(per)
				}
				calls += max(n, 1)
			}
			done[w] = float64(calls)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Printf("%-20sfailed: %v\n", name, err)
	}
	res.duration = time.Since(start)
	for w := range done {
		done[w] /= res.duration.Seconds()
	}
	res.fairness = NewFairnessStats(done)

	printResult(res)
	return res
}

// benchExec runs one call through a blocking exec function
func benchExec(exec func(*common.Message) (*common.Message, error)) benchmark {
	return func(idx uint32, arg uint32) (int, error) {
		msg, err := rcmClient.Alloc(4)
		if err != nil {
			return 0, err
		}
		msg.Packet().SetFxnIdx(idx)
		binary.LittleEndian.PutUint32(msg.Data(), arg)

		reply, err := exec(msg)
		if reply == nil && client.Unsent(err) {
			_ = rcmClient.Free(msg)
		}
		if reply != nil {
			if got := binary.LittleEndian.Uint32(reply.Data()); err == nil && got != 2*arg {
				err = fmt.Errorf("message %d: got %d, want %d", reply.Packet().MsgID(), got, 2*arg)
			}
			if ferr := rcmClient.Free(reply); ferr != nil && err == nil {
				err = ferr
			}
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	}
}

// benchPipelined sends perfDepth requests and collects the replies in reverse order
func benchPipelined(idx uint32, arg uint32) (int, error) {
	var firstErr error
	ids := make([]uint16, 0, perfDepth)
	for i := 0; i < perfDepth; i++ {
		msg, err := rcmClient.Alloc(4)
		if err != nil {
			firstErr = err
			break
		}
		msg.Packet().SetFxnIdx(idx)
		binary.LittleEndian.PutUint32(msg.Data(), arg+uint32(i))
		id, err := rcmClient.ExecNoWait(msg)
		if err != nil {
			_ = rcmClient.Free(msg)
			firstErr = err
			break
		}
		ids = append(ids, id)
	}

	done := 0
	for i := len(ids) - 1; i >= 0; i-- {
		reply, err := rcmClient.WaitUntilDone(ids[i])
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if reply == nil {
			continue
		}
		if err == nil {
			done++
		}
		if ferr := rcmClient.Free(reply); ferr != nil && firstErr == nil {
			firstErr = ferr
		}
	}
	if len(ids) < perfDepth && firstErr == nil {
		firstErr = fmt.Errorf("only %d of %d requests sent", len(ids), perfDepth)
	}
	return done, firstErr
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// opsPerSec returns the throughput of a result over all threads
func opsPerSec(res *perfResult) float64 {
	secs := math.Max(res.duration.Seconds(), 1e-9) // prevent division by zero
	return float64(res.timer.Count()) / secs
}

// printResult prints the result of a benchmark in a formatted way
func printResult(res *perfResult) {
	if res.skipped || res.timer.Count() == 0 {
		fmt.Printf("%-20sskipped\n", res.name)
		return
	}

	ps := res.timer.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Printf("%-20s%.0f ops/sec\tmean %s\tp50 %s\tp95 %s\tp99 %s\tmax %s\terrors %d\tfairness %.2f\n",
		res.name,
		opsPerSec(res),
		time.Duration(res.timer.Mean()),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
		time.Duration(res.timer.Max()),
		res.errors.Count(),
		res.fairness.Fairness,
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []*perfResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Calls", "OpsPerSec", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "MaxNs", "Errors", "Fairness", "Skipped",
		"Server", "HeapID", "Threads", "CallsPerThread", "Rate", "Depth",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, res := range results {
		ps := res.timer.Percentiles([]float64{0.5, 0.95, 0.99})
		row := []string{
			res.name,
			strconv.FormatInt(res.timer.Count(), 10),
			fmt.Sprintf("%.0f", opsPerSec(res)),
			fmt.Sprintf("%.0f", res.timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatInt(res.timer.Max(), 10),
			strconv.FormatInt(res.errors.Count(), 10),
			fmt.Sprintf("%.3f", res.fairness.Fairness),
			strconv.FormatBool(res.skipped),
			clientConf.ServerName,
			strconv.Itoa(int(rcmClient.HeapID())),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfCalls),
			fmt.Sprintf("%.0f", perfRate),
			strconv.Itoa(perfDepth),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", res.name, err)
		}
	}

	return nil
}
