package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/aggregates"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/models"
	"github.com/opensource-finance/kestrel/internal/patterns"
)

// workerRepo stubs just the repository calls the evaluation path needs.
type workerRepo struct {
	domain.Repository
	mu  sync.Mutex
	txs map[string]*domain.Transaction
}

func newWorkerRepo() *workerRepo {
	return &workerRepo{txs: make(map[string]*domain.Transaction)}
}

func (r *workerRepo) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[txID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *workerRepo) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tx
	r.txs[tx.ID] = &cp
	return nil
}

func (r *workerRepo) UserAggregates(ctx context.Context, userID string) (*domain.UserAggregates, error) {
	return &domain.UserAggregates{UserID: userID}, nil
}

func (r *workerRepo) SavePattern(ctx context.Context, p *domain.FraudPattern) error {
	return nil
}

func (r *workerRepo) status(txID string) domain.TransactionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx, ok := r.txs[txID]; ok {
		return tx.Status
	}
	return ""
}

type lowRiskScorer struct{}

func (s *lowRiskScorer) Name() string { return "LOW" }

func (s *lowRiskScorer) Score(ctx context.Context, tx *domain.Transaction, v *features.Vector) (domain.ModelPrediction, error) {
	return domain.ModelPrediction{ModelName: "LOW", Confidence: 0.2, Rationale: "low"}, nil
}

func testEngine(repo domain.Repository, b domain.EventBus) *engine.Engine {
	cfg := domain.EngineConfig{
		FraudThreshold: 0.7,
		StoreThreshold: 0.5,
		ModelTimeout:   time.Second,
	}
	agg := ensemble.New([]models.Scorer{&lowRiskScorer{}}, cfg)
	return engine.New(repo, agg, patterns.New(cfg), aggregates.NewService(repo, nil), b)
}

func seedPending(repo *workerRepo, id string) *domain.Transaction {
	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:        id,
		Reference: "REF-" + id,
		Type:      domain.TypePayment,
		Amount:    100,
		Status:    domain.StatusPending,
		UserID:    "user-001",
		CreatedAt: now,
		UpdatedAt: now,
	}
	repo.txs[id] = tx
	return tx
}

func publishTx(t *testing.T, b domain.EventBus, tx *domain.Transaction) {
	t.Helper()
	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("failed to marshal transaction: %v", err)
	}
	if err := b.Publish(context.Background(), domain.TopicTransactionSubmitted, data); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitForStatus(t *testing.T, repo *workerRepo, txID string, want domain.TransactionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if repo.status(txID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("transaction %s never reached %s, last status %s", txID, want, repo.status(txID))
}

func TestWorkerProcessesSubmittedEvents(t *testing.T) {
	repo := newWorkerRepo()
	b := bus.NewChannelBus(16)
	defer b.Close()

	w := NewWorker(b, testEngine(repo, nil))
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicTransactionSubmitted {
		t.Errorf("unexpected stats: %+v", stats)
	}

	tx := seedPending(repo, "tx-async")
	publishTx(t, b, tx)

	waitForStatus(t, repo, "tx-async", domain.StatusCompleted)
}

func TestWorkerSkipsDecidedTransactions(t *testing.T) {
	repo := newWorkerRepo()
	b := bus.NewChannelBus(16)
	defer b.Close()

	w := NewWorker(b, testEngine(repo, nil))
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	tx := seedPending(repo, "tx-done")
	tx.Status = domain.StatusCompleted
	repo.txs["tx-done"] = tx

	// Already decided: the event is consumed without error and the
	// status is untouched.
	publishTx(t, b, tx)
	time.Sleep(50 * time.Millisecond)

	if got := repo.status("tx-done"); got != domain.StatusCompleted {
		t.Errorf("status changed unexpectedly: %s", got)
	}
}

func TestWorkerIgnoresUnknownTransactions(t *testing.T) {
	repo := newWorkerRepo()
	b := bus.NewChannelBus(16)
	defer b.Close()

	w := NewWorker(b, testEngine(repo, nil))
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	publishTx(t, b, &domain.Transaction{ID: "tx-ghost"})
	time.Sleep(50 * time.Millisecond)

	// Nothing to assert beyond "no panic": the handler logs and drops
	// events for unknown transactions.
}

func TestWorkerStop(t *testing.T) {
	repo := newWorkerRepo()
	b := bus.NewChannelBus(16)
	defer b.Close()

	w := NewWorker(b, testEngine(repo, nil))
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if w.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}

	tx := seedPending(repo, "tx-late")
	publishTx(t, b, tx)
	time.Sleep(50 * time.Millisecond)

	if got := repo.status("tx-late"); got != domain.StatusPending {
		t.Errorf("stopped worker must not process events, status %s", got)
	}
}
