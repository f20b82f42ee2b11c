package storage

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"golang.org/x/sync/errgroup"

	"slotboard/domain"
)

const (
	defaultQueueConcurrency = 4
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue publishes slot events to an Azure storage queue so downstream
// consumers can follow board changes.
type EventQueue struct {
	queue       queueAPI
	concurrency int
}

// NewEventQueue connects to the named queue.
func NewEventQueue(connStr, queueName string) (*EventQueue, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: qc, concurrency: queueConcurrencyForCPU(runtime.NumCPU())}, nil
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu < 1 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

// PublishEvents enqueues every event. The first failure cancels the sends
// still pending and is returned.
func (q *EventQueue) PublishEvents(ctx context.Context, events []domain.SlotEvent) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := q.concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		g.Go(func() error {
			_, err := q.queue.EnqueueMessage(gctx, string(data), nil)
			return err
		})
	}
	return g.Wait()
}

// Concurrency returns the number of parallel enqueue calls per batch.
func (q *EventQueue) Concurrency() int { return q.concurrency }
