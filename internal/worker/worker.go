// Package worker binds the pipeline stages to the event bus.
package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// Stage event sources stamped on republished envelopes.
const (
	sourceFeatures = "harrier/features"
	sourceScoring  = "harrier/scoring"
)

// counterWindow bounds the per-stage processed counters kept in the cache.
const counterWindow = 24 * time.Hour

// shardedExecutor serializes work per key: jobs with equal keys run on the
// same single-goroutine shard in submission order, while distinct keys run
// concurrently. This is what gives each account a causally ordered feature
// history under concurrent delivery.
type shardedExecutor struct {
	shards []chan func()
	wg     sync.WaitGroup
}

func newShardedExecutor(n int) *shardedExecutor {
	if n <= 0 {
		n = 8
	}
	e := &shardedExecutor{shards: make([]chan func(), n)}
	for i := range e.shards {
		ch := make(chan func(), 256)
		e.shards[i] = ch
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for job := range ch {
				job()
			}
		}()
	}
	return e
}

// submit enqueues a job on the shard owning key. Blocks when the shard is
// saturated, which backpressures the bus handler.
func (e *shardedExecutor) submit(key string, job func()) {
	h := fnv.New32a()
	h.Write([]byte(key))
	e.shards[h.Sum32()%uint32(len(e.shards))] <- job
}

func (e *shardedExecutor) close() {
	for _, ch := range e.shards {
		close(ch)
	}
	e.wg.Wait()
}

// Pipeline wires the feature, scoring and alert stages to the shared event
// topic. Each stage filters the decoded events it owns and republishes its
// output to the same topic.
type Pipeline struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	engine *features.Engine
	scorer *scoring.Scorer
	alerts *alerts.Manager
	cfg    domain.PipelineConfig
	logger *slog.Logger

	subscriptions []domain.Subscription
	featureExec   *shardedExecutor
	scoreExec     *shardedExecutor
	alertExec     *shardedExecutor

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPipeline creates the worker pipeline.
func NewPipeline(
	bus domain.EventBus,
	repo domain.Repository,
	cache domain.Cache,
	engine *features.Engine,
	scorer *scoring.Scorer,
	alertMgr *alerts.Manager,
	cfg domain.PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		engine: engine,
		scorer: scorer,
		alerts: alertMgr,
		cfg:    cfg,
		logger: logger.With("component", "worker"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes the three stages to the event topic.
func (p *Pipeline) Start() error {
	p.featureExec = newShardedExecutor(p.cfg.WorkerShards)
	p.scoreExec = newShardedExecutor(p.cfg.WorkerShards)
	p.alertExec = newShardedExecutor(p.cfg.WorkerShards)

	stages := []struct {
		name    string
		handler domain.MessageHandler
	}{
		{"features", p.handleFeatureStage},
		{"scoring", p.handleScoreStage},
		{"alerts", p.handleAlertStage},
	}

	for _, stage := range stages {
		sub, err := p.bus.Subscribe(p.ctx, domain.TopicEvents, stage.handler)
		if err != nil {
			return err
		}
		p.subscriptions = append(p.subscriptions, sub)
		p.logger.Info("stage subscribed", "stage", stage.name, "topic", domain.TopicEvents)
	}

	return nil
}

// Stop unsubscribes the stages and drains the in-flight work.
func (p *Pipeline) Stop() {
	for _, sub := range p.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Warn("unsubscribe failed", "topic", sub.Topic(), "error", err)
		}
	}
	p.subscriptions = nil

	if p.featureExec != nil {
		p.featureExec.close()
	}
	if p.scoreExec != nil {
		p.scoreExec.close()
	}
	if p.alertExec != nil {
		p.alertExec.close()
	}

	p.cancel()
	p.logger.Info("pipeline stopped")
}

// handleFeatureStage consumes ingestion events: reference data is upserted,
// transactions are appended to history, featurized and republished.
func (p *Pipeline) handleFeatureStage(ctx context.Context, msg *domain.Message) error {
	ev, err := p.decode(msg)
	if ev == nil {
		return err
	}

	switch e := ev.(type) {
	case domain.TransactionIngested:
		txn := e.Transaction
		p.featureExec.submit(txn.AccountID, func() {
			p.processTransaction(&txn)
		})

	case domain.CustomerIngested:
		customer := e.Customer
		p.featureExec.submit(customer.CustomerID, func() {
			if err := p.repo.SaveCustomer(p.ctx, &customer); err != nil {
				p.logger.Error("customer upsert failed",
					"customer_id", customer.CustomerID, "error", err)
			}
		})

	case domain.AccountIngested:
		account := e.Account
		p.featureExec.submit(account.AccountID, func() {
			if err := p.repo.SaveAccount(p.ctx, &account); err != nil {
				p.logger.Error("account upsert failed",
					"account_id", account.AccountID, "error", err)
			}
		})
	}

	return nil
}

func (p *Pipeline) processTransaction(txn *domain.Transaction) {
	if err := p.engine.Ingest(p.ctx, txn); err != nil {
		p.logger.Error("transaction ingest failed", "txn_id", txn.TxnID, "error", err)
		return
	}

	fv := p.engine.Compute(p.ctx, txn)
	p.countStage("features")

	p.publish(sourceFeatures, domain.FeaturesReady{TxnID: txn.TxnID, Features: fv})
}

// handleScoreStage consumes FeaturesReady and republishes Scored.
func (p *Pipeline) handleScoreStage(ctx context.Context, msg *domain.Message) error {
	ev, err := p.decode(msg)
	if ev == nil {
		return err
	}

	fr, ok := ev.(domain.FeaturesReady)
	if !ok {
		return nil
	}

	p.scoreExec.submit(fr.TxnID, func() {
		result := p.scorer.Score(p.ctx, fr.TxnID, fr.Features)

		if err := p.repo.SaveScore(p.ctx, result); err != nil {
			p.logger.Error("score persist failed", "txn_id", fr.TxnID, "error", err)
		}
		p.countStage("scoring")

		p.publish(sourceScoring, domain.Scored{Result: *result})
	})

	return nil
}

// handleAlertStage consumes Scored events.
func (p *Pipeline) handleAlertStage(ctx context.Context, msg *domain.Message) error {
	ev, err := p.decode(msg)
	if ev == nil {
		return err
	}

	scored, ok := ev.(domain.Scored)
	if !ok {
		return nil
	}

	p.alertExec.submit(scored.Result.TxnID, func() {
		if _, err := p.alerts.ProcessScored(p.ctx, &scored.Result); err != nil {
			p.logger.Error("alert processing failed",
				"txn_id", scored.Result.TxnID, "error", err)
		}
		p.countStage("alerts")
	})

	return nil
}

// decode parses the envelope; unknown event types are dropped silently so a
// newer producer cannot wedge an older consumer.
func (p *Pipeline) decode(msg *domain.Message) (domain.Event, error) {
	ev, err := domain.DecodeEvent(msg.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEventType) {
			p.logger.Debug("dropping unknown event", "message_id", msg.ID)
			return nil, nil
		}
		p.logger.Error("event decode failed", "message_id", msg.ID, "error", err)
		return nil, nil
	}
	return ev, nil
}

func (p *Pipeline) publish(source string, ev domain.Event) {
	payload, err := domain.EncodeEvent(source, ev)
	if err != nil {
		p.logger.Error("event encode failed", "type", ev.EventType(), "error", err)
		return
	}
	if err := p.bus.Publish(p.ctx, domain.TopicEvents, payload); err != nil {
		p.logger.Error("event publish failed", "type", ev.EventType(), "error", err)
	}
}

func (p *Pipeline) countStage(stage string) {
	if p.cache == nil {
		return
	}
	if _, err := p.cache.IncrementCounter(p.ctx, "stage:"+stage, counterWindow); err != nil {
		p.logger.Debug("stage counter increment failed", "stage", stage, "error", err)
	}
}
