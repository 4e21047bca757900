package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"devflow/domain"
)

const (
	edmInt64 = "Edm.Int64"
	// Azure Tables caps string properties at 64 KiB of UTF-16. Chunks are
	// sized in bytes well below that so any UTF-8 text fits.
	dataChunkSize = 30 * 1024
	maxDataChunks = 16
)

var retryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

type azureTables struct {
	svc     *aztables.ServiceClient
	clients map[string]*aztables.Client
}

func newAzureTables(connStr string) (*azureTables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &azureTables{svc: svc, clients: map[string]*aztables.Client{}}, nil
}

// client returns the table client for name. Clients are created up front by
// New, so the map is only read after construction.
func (a *azureTables) client(name string) *aztables.Client {
	if c, ok := a.clients[name]; ok {
		return c
	}
	return a.svc.NewClient(name)
}

func (a *azureTables) register(names ...string) {
	for _, n := range names {
		a.clients[n] = a.svc.NewClient(n)
	}
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func (a *azureTables) get(ctx context.Context, table, pk, rk string) (*row, error) {
	resp, err := a.client(table).GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	r, err := decodeEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	r.ETag = string(resp.ETag)
	return &r, nil
}

func (a *azureTables) list(ctx context.Context, table, pk, after string, limit int) ([]row, error) {
	filter := "PartitionKey eq '" + odataEscape(pk) + "'"
	if after != "" {
		filter += " and RowKey gt '" + odataEscape(after) + "'"
	}
	opts := &aztables.ListEntitiesOptions{Filter: &filter}
	if limit > 0 && limit < 1000 {
		top := int32(limit)
		opts.Top = &top
	}
	pager := a.client(table).NewListEntitiesPager(opts)
	rows := []row{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			r, err := decodeEntity(e)
			if err != nil {
				return nil, err
			}
			rows = append(rows, r)
			if limit > 0 && len(rows) == limit {
				return rows, nil
			}
		}
	}
	return rows, nil
}

func (a *azureTables) insert(ctx context.Context, table string, r row) error {
	payload, err := encodeEntity(r)
	if err != nil {
		return err
	}
	if _, err := a.client(table).AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return errEntityExists
		}
		return err
	}
	return nil
}

func (a *azureTables) upsert(ctx context.Context, table string, r row) error {
	payload, err := encodeEntity(r)
	if err != nil {
		return err
	}
	_, err = a.client(table).UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (a *azureTables) replace(ctx context.Context, table string, r row, etag string) error {
	payload, err := encodeEntity(r)
	if err != nil {
		return err
	}
	et := azcore.ETag(etag)
	_, err = a.client(table).UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	switch statusCode(err) {
	case 0:
		return err
	case http.StatusPreconditionFailed:
		return domain.ErrConcurrencyConflict
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return err
}

func (a *azureTables) remove(ctx context.Context, table, pk, rk string) error {
	_, err := a.client(table).DeleteEntity(ctx, pk, rk, nil)
	if statusCode(err) == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return err
}

func (a *azureTables) createTable(ctx context.Context, table string) error {
	_, err := a.svc.CreateTable(ctx, table, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

func odataEscape(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// encodeEntity flattens a row into an Azure table entity, splitting the JSON
// document over Data, Data1, Data2... properties.
func encodeEntity(r row) ([]byte, error) {
	chunks := splitChunks(string(r.Data), dataChunkSize)
	if len(chunks) > maxDataChunks {
		return nil, fmt.Errorf("%w: entity %s is too large (%d bytes)", domain.ErrValidation, r.RowKey, len(r.Data))
	}
	ent := map[string]any{
		"PartitionKey":                r.PartitionKey,
		"RowKey":                      r.RowKey,
		"CommandTimestamp":            strconv.FormatInt(r.Stamp, 10),
		"CommandTimestamp@odata.type": edmInt64,
		"DataParts":                   len(chunks),
	}
	for i, c := range chunks {
		ent[dataProperty(i)] = c
	}
	return json.Marshal(ent)
}

func decodeEntity(b []byte) (row, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return row{}, err
	}
	var r row
	if err := unmarshalField(raw, "PartitionKey", &r.PartitionKey); err != nil {
		return row{}, err
	}
	if err := unmarshalField(raw, "RowKey", &r.RowKey); err != nil {
		return row{}, err
	}
	_ = unmarshalField(raw, "odata.etag", &r.ETag)
	var stamp string
	if err := unmarshalField(raw, "CommandTimestamp", &stamp); err == nil && stamp != "" {
		r.Stamp, _ = strconv.ParseInt(stamp, 10, 64)
	}
	parts := 1
	_ = unmarshalField(raw, "DataParts", &parts)
	var sb strings.Builder
	for i := 0; i < parts; i++ {
		var chunk string
		if err := unmarshalField(raw, dataProperty(i), &chunk); err != nil {
			return row{}, fmt.Errorf("entity %s: %w", r.RowKey, err)
		}
		sb.WriteString(chunk)
	}
	r.Data = []byte(sb.String())
	return r, nil
}

func unmarshalField(raw map[string]json.RawMessage, key string, v any) error {
	b, ok := raw[key]
	if !ok {
		return fmt.Errorf("missing property %s", key)
	}
	return json.Unmarshal(b, v)
}

func dataProperty(i int) string {
	if i == 0 {
		return "Data"
	}
	return "Data" + strconv.Itoa(i)
}

// splitChunks splits s into pieces of at most size bytes without cutting a
// UTF-8 sequence in half.
func splitChunks(s string, size int) []string {
	if s == "" {
		return []string{""}
	}
	var out []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8RuneStart(s[cut]) {
			cut--
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

type azureQueue struct {
	client *azqueue.QueueClient
	// visibility in seconds; nil uses the service default.
	visibility *int32
}

func newAzureQueue(connStr, name string, visibility time.Duration) (*azureQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	q := &azureQueue{client: cq}
	if secs := int32(visibility / time.Second); secs > 0 {
		q.visibility = &secs
	}
	return q, nil
}

func (q *azureQueue) enqueue(ctx context.Context, body string) error {
	_, err := q.client.EnqueueMessage(ctx, body, nil)
	return err
}

func (q *azureQueue) dequeue(ctx context.Context) (*QueueMessage, error) {
	var opts *azqueue.DequeueMessageOptions
	if q.visibility != nil {
		opts = &azqueue.DequeueMessageOptions{VisibilityTimeout: q.visibility}
	}
	resp, err := q.client.DequeueMessage(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &QueueMessage{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.Receipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Body = *m.MessageText
	}
	if m.DequeueCount != nil {
		msg.DequeueCount = *m.DequeueCount
	}
	return msg, nil
}

func (q *azureQueue) remove(ctx context.Context, id, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, receipt, nil)
	return err
}

func (q *azureQueue) create(ctx context.Context) error {
	_, err := q.client.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
			return nil
		}
		return err
	}
	return nil
}
