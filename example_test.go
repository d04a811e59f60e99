package queuekit_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jevido/queuekit"
)

func ExampleWorker() {
	ctx := context.Background()

	// Create a manager; queues live in memory unless a driver
	// factory is configured.
	m := queuekit.New()

	// Describe the "crawl" job type and register it.
	jobDone := make(chan struct{}, 1)
	crawl := queuekit.NewJobType("crawl",
		func(ctx context.Context, payload queuekit.Payload) error {
			fmt.Printf("Crawl %s\n", payload["url"])
			jobDone <- struct{}{}
			return nil
		},
		queuekit.SetMaxRetries(2),
	)
	jobs := queuekit.NewRegistry()
	if err := jobs.Register(crawl); err != nil {
		fmt.Println("Register failed")
		return
	}

	// Dispatch a crawler job.
	_, err := m.Dispatch(ctx, crawl, queuekit.Payload{"url": "https://alt-f4.de"})
	if err != nil {
		fmt.Println("Dispatch failed")
		return
	}
	fmt.Println("Job dispatched")

	// Run a worker in the background.
	w := queuekit.NewWorker(m, jobs,
		queuekit.SetSleepInterval(10*time.Millisecond),
	)
	runDone := make(chan error, 1)
	go func() {
		runDone <- w.Run(ctx)
	}()

	// Wait for the crawler job to complete.
	select {
	case <-jobDone:
	case <-time.After(5 * time.Second):
		fmt.Println("Job timed out")
		return
	}

	// Stop the worker and close the manager.
	w.Stop()
	if err := <-runDone; err != nil {
		fmt.Println("Run failed")
		return
	}
	if err := m.Close(ctx); err != nil {
		fmt.Println("Close failed")
		return
	}
	fmt.Println("Stopped")

	// Output:
	// Job dispatched
	// Crawl https://alt-f4.de
	// Stopped
}
