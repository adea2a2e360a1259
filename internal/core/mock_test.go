package core

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/halvard/relay/internal/endpoint"
	"github.com/halvard/relay/internal/model"
)

// ---------- Mock DB ----------

// mockDB implements TxBeginner for testing. Begin hands back a transaction
// that delegates queries to the same mock, so one set of expectations covers
// both pooled and transactional calls.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &mockTx{db: m}, nil
}

// ---------- Mock Tx ----------

type mockTx struct {
	db *mockDB
}

func (t *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, arguments...)
}

func (t *mockTx) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, arguments...)
}

func (t *mockTx) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, arguments...)
}

func (t *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *mockTx) Commit(ctx context.Context) error          { return nil }
func (t *mockTx) Rollback(ctx context.Context) error        { return nil }

func (t *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *mockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }

func (t *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *mockTx) Conn() *pgx.Conn { return nil }

// ---------- Mock Row ----------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// ---------- Mock Rows ----------

// mockRows implements pgx.Rows for testing.
// It iterates through a list of scan functions, one per row.
type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

// newEmptyMockRows returns a mockRows that yields zero rows.
func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- Mock Enqueuer ----------

type enqueuedJob struct {
	Job     string
	Payload any
	Opts    JobOptions
}

// mockEnqueuer records enqueued jobs in order.
type mockEnqueuer struct {
	jobs     []enqueuedJob
	dequeued []string
	err      error
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, job string, payload any, opts JobOptions) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, enqueuedJob{Job: job, Payload: payload, Opts: opts})
	return nil
}

func (m *mockEnqueuer) Dequeue(ctx context.Context, jobKey string) error {
	m.dequeued = append(m.dequeued, jobKey)
	return nil
}

func (m *mockEnqueuer) jobNames() []string {
	names := make([]string, 0, len(m.jobs))
	for _, j := range m.jobs {
		names = append(names, j.Job)
	}
	return names
}

// ---------- Mock EndpointClient ----------

type mockEndpointClient struct {
	mock.Mock
}

func (m *mockEndpointClient) Ping(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *mockEndpointClient) ExecuteJob(ctx context.Context, url string, req endpoint.ExecuteJobRequest) (*endpoint.RunResponse, error) {
	args := m.Called(ctx, url, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*endpoint.RunResponse), args.Error(1)
}

func (m *mockEndpointClient) PreprocessRun(ctx context.Context, url string, req endpoint.PreprocessRunRequest) (*endpoint.PreprocessRunResponse, error) {
	args := m.Called(ctx, url, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*endpoint.PreprocessRunResponse), args.Error(1)
}

func (m *mockEndpointClient) DeliverEvent(ctx context.Context, url string, event endpoint.EventPayload) error {
	args := m.Called(ctx, url, event)
	return args.Error(0)
}

// ---------- Mock RateLimiter ----------

type mockLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, error) {
	m.keys = append(m.keys, key)
	return m.allow, m.err
}

// ---------- Matchers ----------

// sqlContains matches SQL statements by substring, so multi-statement flows
// can pin expectations to individual queries.
func sqlContains(sub string) any {
	return mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, sub)
	})
}

// ---------- Shared fixtures ----------

func testEnvironment() *model.Environment {
	return &model.Environment{
		ID:             "env-1",
		OrganizationID: "org-1",
		Slug:           "prod",
	}
}
