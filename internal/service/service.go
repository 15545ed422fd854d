// Package service is the boundary API of the wallet core. Every operation
// takes the already-authenticated caller identity.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/olehkaliuzhnyi/certwallet/internal/endpoint"
	"github.com/olehkaliuzhnyi/certwallet/internal/ledger"
	"github.com/olehkaliuzhnyi/certwallet/internal/metrics"
	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

const tracerName = "github.com/olehkaliuzhnyi/certwallet/internal/service"

// Operation names used for spans and metrics.
const (
	OpCreateDepositEndpoint  = "create_wallet_deposit_endpoint"
	OpCreateReceiverEndpoint = "create_receiver_deposit_endpoint"
	OpListReceiverEndpoints  = "list_receiver_deposit_endpoints"
	OpQueryCertificates      = "query_granular_certificates"
)

// ReceiverRequest describes the remote deposit endpoint a caller registers.
type ReceiverRequest struct {
	Reference *string
	Remote    models.DepositEndpoint
}

// WalletService composes the endpoint registry and the ledger.
type WalletService struct {
	endpoints *endpoint.Registry
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	version   int32
}

type Option func(*WalletService)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *WalletService) {
		s.metrics = m
	}
}

// WithDepositVersion sets the version tag of issued deposit endpoints.
func WithDepositVersion(v int32) Option {
	return func(s *WalletService) {
		s.version = v
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *WalletService) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *WalletService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wires the service over tx. publicURL is the address advertised in
// issued deposit endpoints.
func New(tx storage.Tx, publicURL string, opts ...Option) *WalletService {
	s := &WalletService{
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default().With("component", "service"),
		version: endpoint.DefaultVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = endpoint.NewRegistry(tx, publicURL, endpoint.WithVersion(s.version))
	s.ledger = ledger.New(tx)
	return s
}

// Ledger exposes the ledger for ingestion.
func (s *WalletService) Ledger() *ledger.Ledger {
	return s.ledger
}

// CreateWalletDepositEndpoint issues a fresh deposit endpoint for caller.
func (s *WalletService) CreateWalletDepositEndpoint(ctx context.Context, caller string) (_ *models.DepositEndpoint, err error) {
	ctx, done := s.start(ctx, OpCreateDepositEndpoint, caller)
	defer func() { err = done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	dep, err := s.endpoints.CreateWalletDepositEndpoint(ctx, caller)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementSectionsAllocated()
	return dep, nil
}

// CreateReceiverDepositEndpoint registers req.Remote as a receiver owned by
// caller and returns the receiver id.
func (s *WalletService) CreateReceiverDepositEndpoint(ctx context.Context, caller string, req ReceiverRequest) (_ uuid.UUID, err error) {
	ctx, done := s.start(ctx, OpCreateReceiverEndpoint, caller)
	defer func() { err = done(err) }()

	if err := requireCaller(caller); err != nil {
		return uuid.Nil, err
	}
	return s.endpoints.CreateReceiverDepositEndpoint(ctx, caller, req.Reference, req.Remote)
}

// ListReceiverEndpoints returns the receiver endpoints caller registered.
func (s *WalletService) ListReceiverEndpoints(ctx context.Context, caller string) (_ []*models.ExternalEndpoint, err error) {
	ctx, done := s.start(ctx, OpListReceiverEndpoints, caller)
	defer func() { err = done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	return s.endpoints.ListReceiverEndpoints(ctx, caller)
}

// QueryGranularCertificates returns caller's holdings per certificate.
func (s *WalletService) QueryGranularCertificates(ctx context.Context, caller string) (_ []models.GranularCertificate, err error) {
	ctx, done := s.start(ctx, OpQueryCertificates, caller)
	defer func() { err = done(err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	return s.ledger.QueryGranularCertificates(ctx, caller)
}

// start opens a span for op. The returned func closes it, records metrics,
// logs internal failures and normalizes uncoded errors to Internal.
func (s *WalletService) start(ctx context.Context, op, caller string) (context.Context, func(error) error) {
	ctx, span := s.tracer.Start(ctx, "WalletService."+op, trace.WithAttributes(attribute.String("caller", caller)))
	begin := time.Now()

	return ctx, func(err error) error {
		defer span.End()

		outcome := "ok"
		if err != nil {
			if !isCoded(err) {
				err = dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
			}
			code := dErrors.CodeOf(err)
			outcome = string(code)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(code))
			if code == dErrors.CodeInternal {
				s.logger.ErrorContext(ctx, "operation failed",
					"operation", op,
					"caller", caller,
					"error", err,
				)
			}
		}
		s.metrics.ObserveOperation(op, outcome, time.Since(begin))
		return err
	}
}

func requireCaller(caller string) error {
	if caller == "" {
		return dErrors.New(dErrors.CodeInvalidArgument, "caller identity is required")
	}
	return nil
}

func isCoded(err error) bool {
	var de *dErrors.Error
	return errors.As(err, &de)
}
