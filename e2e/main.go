// Command e2e exercises the queue end to end: it dispatches jobs with
// random payloads and a configurable failure rate while a worker
// processes them, printing queue statistics once a second.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jevido/queuekit"
	"github.com/jevido/queuekit/mongodb"
	"github.com/jevido/queuekit/mysql"
)

func main() {
	const (
		exampleDBURL = "root@tcp(127.0.0.1:3306)/queuekit_e2e?loc=UTC&parseTime=true"
	)
	var (
		driver      = flag.String("driver", "memory", "driver type (memory, mysql or mongodb)")
		dsn         = flag.String("dsn", "", "connection string for durable drivers, e.g. "+exampleDBURL)
		queuesList  = flag.String("queues", "critical,default", "comma-separated queue names in polling order")
		fillTime    = flag.Duration("fill-time", 2*time.Second, "interval in which new jobs get added")
		runTime     = flag.Duration("run-time", 500*time.Millisecond, "maximum run time of a single job")
		logInterval = flag.Duration("log-interval", 1*time.Second, "log interval for stats")
		maxRetries  = flag.Int("max-retries", 2, "maximum number of retries per job")
		retryDelay  = flag.Duration("retry-delay", 2*time.Second, "base retry delay")
		failureRate = flag.Float64("failure-rate", 0.05, "failure rate in the interval [0.0,1.0]")
		sleep       = flag.Duration("sleep", 200*time.Millisecond, "worker sleep between empty polls")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	queues := strings.Split(*queuesList, ",")

	factory, err := makeFactory(*driver, *dsn)
	if err != nil {
		log.Fatal(err)
	}
	m := queuekit.New(queuekit.SetDriverFactory(factory))
	defer m.Close(context.Background())

	sleepType := queuekit.NewJobType("sleep",
		makeHandler(*failureRate, *runTime),
		queuekit.SetMaxRetries(*maxRetries),
		queuekit.SetRetryDelay(*retryDelay),
		queuekit.SetPermanentFailureHook(func(payload queuekit.Payload, err error) {
			log.Printf("job %v permanently failed: %v", payload["n"], err)
		}),
	)
	reg := queuekit.NewRegistry()
	if err := reg.Register(sleepType); err != nil {
		log.Fatal(err)
	}

	w := queuekit.NewWorker(m, reg,
		queuekit.SetQueues(queues...),
		queuekit.SetSleepInterval(*sleep),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g := new(errgroup.Group)
	g.Go(func() error {
		return w.Run(context.Background())
	})
	g.Go(func() error {
		err := enqueuer(ctx, m, sleepType, queues, *fillTime)
		w.Stop()
		return err
	})
	g.Go(func() error {
		logStats(ctx, m, w, queues, *logInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("exit with error %v", err)
		os.Exit(1)
	}
	log.Printf("exiting: processed=%d failed=%d", w.Processed(), w.Failed())
}

func makeFactory(driver, dsn string) (queuekit.DriverFactory, error) {
	switch driver {
	case "memory":
		return func(queue string) (queuekit.Driver, error) {
			return queuekit.NewInMemoryDriver(queue), nil
		}, nil
	case "mysql":
		return func(queue string) (queuekit.Driver, error) {
			return mysql.NewDriver(queue, dsn)
		}, nil
	case "mongodb":
		return func(queue string) (queuekit.Driver, error) {
			return mongodb.NewDriver(queue, dsn)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", queuekit.ErrUnknownDriver, driver)
	}
}

func enqueuer(ctx context.Context, m *queuekit.Manager, t *queuekit.JobType, queues []string, fillTime time.Duration) error {
	var cnt int
	fillTimeNanos := fillTime.Nanoseconds()
	for {
		pause := time.Duration(rand.Int63n(fillTimeNanos)) * time.Nanosecond
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
		cnt++
		_, err := m.Dispatch(ctx, t,
			queuekit.Payload{"n": cnt},
			queuekit.WithQueue(queues[rand.Intn(len(queues))]),
			queuekit.WithPriority(rand.Intn(10)),
		)
		if err != nil {
			return err
		}
	}
}

func logStats(ctx context.Context, m *queuekit.Manager, w *queuekit.Worker, queues []string, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			for _, queue := range queues {
				ss, err := m.Stats(ctx, queue)
				if err != nil {
					continue
				}
				fmt.Printf("%-10s size=%4d available=%4d delayed=%4d processed=%4d failed=%4d\n",
					ss.Name, ss.Size, ss.Available, ss.Delayed, w.Processed(), w.Failed())
			}
		case <-ctx.Done():
			return
		}
	}
}

func makeHandler(failureRate float64, runTime time.Duration) queuekit.Handler {
	runTimeNanos := runTime.Nanoseconds()
	return func(ctx context.Context, payload queuekit.Payload) error {
		pause := time.Duration(rand.Int63n(runTimeNanos)) * time.Nanosecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
		if rand.Float64() < failureRate {
			return errors.New("handler failed")
		}
		return nil
	}
}
