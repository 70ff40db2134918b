package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReceiptBatchRun posts pending sources for one filter.
	TaskReceiptBatchRun = "receipts:batch:run"
	// TaskReceiptAutoCreate sweeps every active branch.
	TaskReceiptAutoCreate = "receipts:autocreate"
)

// ReceiptBatchPayload is the wire form of a batch filter.
type ReceiptBatchPayload struct {
	Branch  string     `json:"branch,omitempty"`
	Types   []string   `json:"types,omitempty"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
	Limit   int        `json:"limit,omitempty"`
	ActorID int64      `json:"actor_id,omitempty"`
}

// Filter converts the payload back into a batch filter.
func (p ReceiptBatchPayload) Filter() receipts.BatchFilter {
	f := receipts.BatchFilter{Branch: p.Branch, From: p.From, To: p.To, Limit: p.Limit}
	for _, t := range p.Types {
		f.Types = append(f.Types, receipts.VoucherType(t))
	}
	return f
}

// AutoCreatePayload optionally narrows the sweep to one branch. Trigger is
// informational (cron, startup, manual).
type AutoCreatePayload struct {
	Branch  string `json:"branch,omitempty"`
	Trigger string `json:"trigger,omitempty"`
}

// NewReceiptBatchTask builds a batch-run task from a filter.
func NewReceiptBatchTask(filter receipts.BatchFilter, actorID int64) (*asynq.Task, error) {
	payload := ReceiptBatchPayload{
		Branch:  filter.Branch,
		From:    filter.From,
		To:      filter.To,
		Limit:   filter.Limit,
		ActorID: actorID,
	}
	for _, t := range filter.Types {
		payload.Types = append(payload.Types, string(t))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceiptBatchRun, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewAutoCreateTask builds an auto-creation task.
func NewAutoCreateTask(branch, trigger string) (*asynq.Task, error) {
	body, err := json.Marshal(AutoCreatePayload{Branch: branch, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceiptAutoCreate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisConnOpt) (*Client, error) {
	if redisOpts == nil {
		return nil, errors.New("jobs: redis options required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueReceiptBatch queues a batch run and returns the task id.
func (c *Client) EnqueueReceiptBatch(ctx context.Context, filter receipts.BatchFilter, actorID int64) (string, error) {
	task, err := NewReceiptBatchTask(filter, actorID)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// EnqueueAutoCreate queues an auto-creation sweep.
func (c *Client) EnqueueAutoCreate(ctx context.Context, branch, trigger string) (*asynq.TaskInfo, error) {
	task, err := NewAutoCreateTask(branch, trigger)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
