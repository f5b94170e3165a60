package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hitoshi/edumarket/internal/metrics"
	"github.com/hitoshi/edumarket/internal/model"
)

// SessionLookup は決済試行IDからCheckout Sessionのmetadataを取得するインターフェース。
type SessionLookup interface {
	FirstSessionMetadata(ctx context.Context, paymentIntentID string) (map[string]string, bool, error)
}

// ResolverConfig はResolverの設定。
type ResolverConfig struct {
	Timeout    time.Duration          // 問い合わせ全体（再試行を含む）の上限
	CacheSize  int                    // 解決済み対応表のLRU容量
	NewBackOff func() backoff.BackOff // nilの場合は指数バックオフ
}

// Resolver は決済試行ID（相関ID）を内部の購入IDに解決する。
// 対応はCheckout Session作成時に確定し以後変わらないため、成功した解決のみキャッシュする。
type Resolver struct {
	lookup     SessionLookup
	cache      *lru.Cache[string, string]
	timeout    time.Duration
	newBackOff func() backoff.BackOff
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(lookup SessionLookup, cfg ResolverConfig, m metrics.MetricsCollector, logger *slog.Logger) (*Resolver, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0 // 上限はcontextのタイムアウトで決める
			return b
		}
	}

	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create correlation cache: %w", err)
	}

	return &Resolver{
		lookup:     lookup,
		cache:      cache,
		timeout:    cfg.Timeout,
		newBackOff: cfg.NewBackOff,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Resolve は決済試行IDに対応する購入IDを返す。
// セッションが存在しない、またはmetadataに購入IDがない場合はCORRELATION_NOT_FOUND、
// タイムアウトまで再試行しても問い合わせに失敗した場合はPAYMENT_PROVIDER_UNAVAILABLEを返す。
func (r *Resolver) Resolve(ctx context.Context, paymentIntentID string) (string, error) {
	if paymentIntentID == "" {
		return "", model.NewCorrelationNotFoundError(paymentIntentID, "payment intent id is empty")
	}
	if purchaseID, ok := r.cache.Get(paymentIntentID); ok {
		r.metrics.RecordCorrelationLookup("cached", 0)
		return purchaseID, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	var (
		metadata map[string]string
		found    bool
	)
	operation := func() error {
		var err error
		metadata, found, err = r.lookup.FirstSessionMetadata(ctx, paymentIntentID)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(r.newBackOff(), ctx))
	elapsed := time.Since(start)
	if err != nil {
		r.metrics.RecordCorrelationLookup("error", elapsed)
		r.logger.Error("決済プロバイダーへの購入ID問い合わせに失敗しました",
			slog.String("payment_intent_id", paymentIntentID),
			slog.String("error", err.Error()),
			slog.Bool("timeout", errors.Is(ctx.Err(), context.DeadlineExceeded)),
		)
		return "", model.NewPaymentProviderUnavailableError(err.Error())
	}

	if !found {
		r.metrics.RecordCorrelationLookup("no_session", elapsed)
		return "", model.NewCorrelationNotFoundError(paymentIntentID, "no checkout session")
	}
	purchaseID := metadata[MetadataPurchaseID]
	if purchaseID == "" {
		r.metrics.RecordCorrelationLookup("no_metadata", elapsed)
		return "", model.NewCorrelationNotFoundError(paymentIntentID, "checkout session has no purchaseId metadata")
	}

	r.metrics.RecordCorrelationLookup("resolved", elapsed)
	r.cache.Add(paymentIntentID, purchaseID)
	return purchaseID, nil
}
