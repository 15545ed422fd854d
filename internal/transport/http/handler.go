// Package httptransport exposes the wallet service over HTTP/JSON.
//
// Extended public keys travel as base58 text of their 82-byte export.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/olehkaliuzhnyi/certwallet/internal/hdkey"
	"github.com/olehkaliuzhnyi/certwallet/internal/service"
	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

// WalletService is the boundary API served by Handler.
type WalletService interface {
	CreateWalletDepositEndpoint(ctx context.Context, caller string) (*models.DepositEndpoint, error)
	CreateReceiverDepositEndpoint(ctx context.Context, caller string, req service.ReceiverRequest) (uuid.UUID, error)
	ListReceiverEndpoints(ctx context.Context, caller string) ([]*models.ExternalEndpoint, error)
	QueryGranularCertificates(ctx context.Context, caller string) ([]models.GranularCertificate, error)
}

// Handler serves the wallet routes.
type Handler struct {
	wallet WalletService
	logger *slog.Logger
}

func NewHandler(wallet WalletService, logger *slog.Logger) *Handler {
	return &Handler{wallet: wallet, logger: logger}
}

// Register mounts the wallet routes on r. Callers must already be
// authenticated.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/deposit-endpoints", h.handleCreateDepositEndpoint)
	r.Post("/v1/receiver-deposit-endpoints", h.handleCreateReceiverEndpoint)
	r.Get("/v1/receiver-deposit-endpoints", h.handleListReceiverEndpoints)
	r.Get("/v1/granular-certificates", h.handleQueryGranularCertificates)
}

// maxRequestBodyBytes bounds decoded request bodies.
const maxRequestBodyBytes = 64 << 10

type depositEndpointResponse struct {
	EndpointURL string `json:"endpoint_url"`
	PublicKey   string `json:"public_key"`
	Version     int32  `json:"version"`
}

type createReceiverRequest struct {
	Reference   *string `json:"reference"`
	EndpointURL string  `json:"endpoint_url"`
	PublicKey   string  `json:"public_key"`
	Version     int32   `json:"version"`
}

type createReceiverResponse struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
}

type receiverEndpoint struct {
	ID          uuid.UUID `json:"id"`
	EndpointURL string    `json:"endpoint_url"`
	PublicKey   string    `json:"public_key"`
	Version     int32     `json:"version"`
	Reference   *string   `json:"reference"`
}

type listReceiversResponse struct {
	ReceiverEndpoints []receiverEndpoint `json:"receiver_endpoints"`
}

type granularCertificatesResponse struct {
	GranularCertificates []models.GranularCertificate `json:"granular_certificates"`
}

func (h *Handler) handleCreateDepositEndpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dep, err := h.wallet.CreateWalletDepositEndpoint(ctx, GetCaller(ctx))
	if err != nil {
		h.fail(ctx, w, "create deposit endpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, depositEndpointResponse{
		EndpointURL: dep.EndpointURL,
		PublicKey:   hdkey.EncodeText(dep.PublicKey),
		Version:     dep.Version,
	})
}

func (h *Handler) handleCreateReceiverEndpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createReceiverRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create receiver request", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, dErrors.Newf(dErrors.CodeInvalidArgument, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		WriteError(w, dErrors.New(dErrors.CodeInvalidArgument, "invalid request body"))
		return
	}
	key, err := hdkey.DecodeText(req.PublicKey)
	if err != nil {
		WriteError(w, err)
		return
	}

	id, err := h.wallet.CreateReceiverDepositEndpoint(ctx, GetCaller(ctx), service.ReceiverRequest{
		Reference: req.Reference,
		Remote: models.DepositEndpoint{
			EndpointURL: req.EndpointURL,
			PublicKey:   key,
			Version:     req.Version,
		},
	})
	if err != nil {
		h.fail(ctx, w, "create receiver deposit endpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, createReceiverResponse{ReceiverID: id})
}

func (h *Handler) handleListReceiverEndpoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoints, err := h.wallet.ListReceiverEndpoints(ctx, GetCaller(ctx))
	if err != nil {
		h.fail(ctx, w, "list receiver deposit endpoints", err)
		return
	}
	resp := listReceiversResponse{ReceiverEndpoints: make([]receiverEndpoint, 0, len(endpoints))}
	for _, e := range endpoints {
		resp.ReceiverEndpoints = append(resp.ReceiverEndpoints, receiverEndpoint{
			ID:          e.ID,
			EndpointURL: e.EndpointURL,
			PublicKey:   hdkey.EncodeText(e.PublicKey),
			Version:     e.Version,
			Reference:   e.Reference,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleQueryGranularCertificates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certs, err := h.wallet.QueryGranularCertificates(ctx, GetCaller(ctx))
	if err != nil {
		h.fail(ctx, w, "query granular certificates", err)
		return
	}
	if certs == nil {
		certs = []models.GranularCertificate{}
	}
	writeJSON(w, http.StatusOK, granularCertificatesResponse{GranularCertificates: certs})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		h.logger.InfoContext(ctx, op+" rejected", "error", err)
	}
	WriteError(w, err)
}
