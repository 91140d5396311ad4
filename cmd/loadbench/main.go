// Command loadbench drives /api/translate of a running web UI with concurrent
// clients and reports throughput and latency percentiles.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/longbow-kurdish/internal/language"
)

type BenchmarkConfig struct {
	BaseURL      string
	NumClients   int
	NumRequests  int
	Duration     time.Duration
	APIKey       string
	OutputFormat string
	OutputFile   string
}

type BenchmarkResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	TotalDuration  time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	AvgLatency     time.Duration
	RequestsPerSec float64
	Percentiles    map[string]time.Duration
	StatusCodes    map[int]int64
}

type LatencySample struct {
	Latency time.Duration
	Success bool
	Status  int
}

type translateRequest struct {
	Text   string       `json:"text"`
	Source language.Tag `json:"source"`
	Target language.Tag `json:"target"`
}

var sentences = []translateRequest{
	{Text: "Hello, my name is Junaid.", Source: language.English, Target: language.Kurdish},
	{Text: "Where is the nearest hospital?", Source: language.English, Target: language.Kurdish},
	{Text: "The weather is beautiful today.", Source: language.English, Target: language.Kurdish},
	{Text: "سڵاو، ناوم جونەیدە.", Source: language.Kurdish, Target: language.English},
	{Text: "نزیکترین نەخۆشخانە لە کوێیە؟", Source: language.Kurdish, Target: language.English},
}

var (
	config       BenchmarkConfig
	results      BenchmarkResult
	latencies    []LatencySample
	latencyMutex sync.Mutex
)

func main() {
	flag.StringVar(&config.BaseURL, "url", "http://localhost:8080", "Base URL of the web UI")
	flag.IntVar(&config.NumClients, "clients", 4, "Number of concurrent clients")
	flag.IntVar(&config.NumRequests, "requests", 25, "Number of requests per client")
	flag.DurationVar(&config.Duration, "duration", time.Minute, "Maximum test duration")
	flag.StringVar(&config.APIKey, "api-key", "", "API key for authentication")
	flag.StringVar(&config.OutputFormat, "format", "text", "Output format (text/json)")
	flag.StringVar(&config.OutputFile, "out", "benchmark_results.json", "File for the JSON results (empty to skip)")
	flag.Parse()

	fmt.Println("Longbow-Kurdish Translation Load Benchmark")
	fmt.Println("==========================================")
	fmt.Printf("Base URL:     %s\n", config.BaseURL)
	fmt.Printf("Clients:      %d\n", config.NumClients)
	fmt.Printf("Requests:     %d per client\n", config.NumRequests)
	fmt.Printf("Duration:     %v max\n", config.Duration)
	fmt.Printf("API Key:      %s\n", maskAPIKey(config.APIKey))
	fmt.Println()

	results.StatusCodes = make(map[int]int64)
	startTime := time.Now()
	deadline := startTime.Add(config.Duration)

	var wg sync.WaitGroup
	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(clientID, deadline)
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(startTime)
	results.TotalDuration = elapsed
	results.RequestsPerSec = float64(results.TotalRequests) / elapsed.Seconds()

	calculatePercentiles()
	printResults()

	if config.OutputFile != "" {
		if err := saveResults(config.OutputFile); err != nil {
			fmt.Fprintf(os.Stderr, "save results: %v\n", err)
			os.Exit(1)
		}
	}
	if results.SuccessfulReqs == 0 {
		os.Exit(1)
	}
}

func runClient(clientID int, deadline time.Time) {
	client := &http.Client{
		Timeout: 2 * time.Minute,
	}

	for i := 0; i < config.NumRequests; i++ {
		if time.Now().After(deadline) {
			return
		}
		req := sentences[(clientID+i)%len(sentences)]
		latency, status := translate(client, req)
		recordResult(LatencySample{Latency: latency, Status: status, Success: status == http.StatusOK})
	}
}

func translate(client *http.Client, tr translateRequest) (time.Duration, int) {
	body, err := json.Marshal(tr)
	if err != nil {
		return 0, 0
	}
	req, err := http.NewRequest(http.MethodPost, config.BaseURL+"/api/translate", bytes.NewReader(body))
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	if config.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+config.APIKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	atomic.AddInt64(&results.TotalRequests, 1)
	if err != nil {
		atomic.AddInt64(&results.FailedReqs, 1)
		return latency, 0
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		atomic.AddInt64(&results.SuccessfulReqs, 1)
	} else {
		atomic.AddInt64(&results.FailedReqs, 1)
	}
	return latency, resp.StatusCode
}

func recordResult(sample LatencySample) {
	latencyMutex.Lock()
	defer latencyMutex.Unlock()

	latencies = append(latencies, sample)
	results.StatusCodes[sample.Status]++

	if results.MinLatency == 0 || sample.Latency < results.MinLatency {
		results.MinLatency = sample.Latency
	}
	if sample.Latency > results.MaxLatency {
		results.MaxLatency = sample.Latency
	}
}

func calculatePercentiles() {
	var successfulLatencies []time.Duration
	for _, sample := range latencies {
		if sample.Success {
			successfulLatencies = append(successfulLatencies, sample.Latency)
		}
	}

	if len(successfulLatencies) == 0 {
		return
	}
	sort.Slice(successfulLatencies, func(i, j int) bool { return successfulLatencies[i] < successfulLatencies[j] })

	results.Percentiles = make(map[string]time.Duration)
	for _, p := range []float64{50, 75, 90, 95, 99} {
		index := int(float64(len(successfulLatencies)) * p / 100)
		if index >= len(successfulLatencies) {
			index = len(successfulLatencies) - 1
		}
		results.Percentiles[fmt.Sprintf("p%d", int(p))] = successfulLatencies[index]
	}

	var total time.Duration
	for _, l := range successfulLatencies {
		total += l
	}
	results.AvgLatency = total / time.Duration(len(successfulLatencies))
}

func successRate() float64 {
	if results.TotalRequests == 0 {
		return 0
	}
	return float64(results.SuccessfulReqs) / float64(results.TotalRequests) * 100
}

func printResults() {
	if config.OutputFormat == "json" {
		data, _ := json.MarshalIndent(summary(), "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println("\nBenchmark Results")
	fmt.Println("===================")
	fmt.Printf("Total Requests:     %d\n", results.TotalRequests)
	fmt.Printf("Successful:         %d\n", results.SuccessfulReqs)
	fmt.Printf("Failed:             %d\n", results.FailedReqs)
	fmt.Printf("Success Rate:       %.2f%%\n", successRate())
	fmt.Printf("Total Duration:     %v\n", results.TotalDuration)
	fmt.Printf("Throughput:         %.2f req/s\n", results.RequestsPerSec)
	fmt.Println()
	fmt.Println("Status Codes:")
	for code, n := range results.StatusCodes {
		fmt.Printf("  %d:    %d\n", code, n)
	}
	fmt.Println()
	fmt.Println("Latency Statistics:")
	fmt.Printf("  Min:    %v\n", results.MinLatency)
	fmt.Printf("  Avg:    %v\n", results.AvgLatency)
	fmt.Printf("  Max:    %v\n", results.MaxLatency)
	fmt.Println()
	fmt.Println("Percentiles:")
	for _, p := range []string{"p50", "p75", "p90", "p95", "p99"} {
		if lat, ok := results.Percentiles[p]; ok {
			fmt.Printf("  %s:   %v\n", p, lat)
		}
	}
}

func summary() map[string]interface{} {
	latency := map[string]interface{}{
		"min": results.MinLatency.String(),
		"avg": results.AvgLatency.String(),
		"max": results.MaxLatency.String(),
	}
	for p, d := range results.Percentiles {
		latency[p] = d.String()
	}
	return map[string]interface{}{
		"total_requests":   results.TotalRequests,
		"successful":       results.SuccessfulReqs,
		"failed":           results.FailedReqs,
		"success_rate":     successRate(),
		"duration_seconds": results.TotalDuration.Seconds(),
		"requests_per_sec": results.RequestsPerSec,
		"status_codes":     results.StatusCodes,
		"latency":          latency,
	}
}

func saveResults(filename string) error {
	data, err := json.MarshalIndent(map[string]interface{}{
		"config": map[string]interface{}{
			"base_url":     config.BaseURL,
			"num_clients":  config.NumClients,
			"num_requests": config.NumRequests,
			"duration":     config.Duration.String(),
			"api_key":      maskAPIKey(config.APIKey),
		},
		"results":   summary(),
		"timestamp": time.Now().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}
	fmt.Printf("\nResults saved to %s\n", filename)
	return nil
}

func maskAPIKey(key string) string {
	if key == "" {
		return "(none)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
