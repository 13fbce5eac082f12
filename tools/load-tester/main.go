package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const eventTemplate = `{
  "process_id": "%s",
  "event_type": "execution.message",
  "source": {"origin": "agent", "runtime": "custom", "agent": "worker-%d"},
  "payload": {"role": "assistant", "content": "load test event %s"},
  "idempotency_key": "%s"
}`

func main() {
	targetURL := flag.String("url", "http://localhost:8080/v1/events", "Target URL for event submission")
	apiKey := flag.String("api-key", "supersecretkey", "API Key for authentication")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	processes := flag.Int("p", 50, "Number of distinct process IDs to spread events across")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Processes: %d, Duration: %s, RPS: %d", *concurrency, *processes, *duration, *rps)

	// Pre-generate process IDs so workers contend on per-process sequencing.
	processIDs := make([]string, *processes)
	for i := range processIDs {
		processIDs[i] = uuid.NewString()
	}

	var wg sync.WaitGroup
	var createdCount, conflictCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}

			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return
				default:
					limiter.Wait(ctx) // Wait for token from rate limiter

					processID := processIDs[(workerID+n)%len(processIDs)]
					idemKey := fmt.Sprintf("worker-%d-%d", workerID, n)
					payload := fmt.Sprintf(eventTemplate, processID, workerID, uuid.NewString(), idemKey)

					req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewBufferString(payload))
					if err != nil {
						continue // Should not happen
					}
					req.Header.Set("Content-Type", "application/json")
					req.Header.Set("X-API-Key", *apiKey)

					resp, err := client.Do(req)
					if err != nil {
						errorCount.Add(1)
						continue
					}

					switch resp.StatusCode {
					case http.StatusCreated:
						createdCount.Add(1)
					case http.StatusServiceUnavailable:
						conflictCount.Add(1)
					default:
						errorCount.Add(1)
					}
					resp.Body.Close()
				}
			}
		}(i)
	}

	wg.Wait()

	totalRequests := createdCount.Load() + conflictCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Committed (201 Created): %d", createdCount.Load())
	log.Printf("Retryable (503): %d", conflictCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
