// Package api exposes bid submission and auction management over ConnectRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/floroz/liveauction/internal/domain/auctions"
	"github.com/floroz/liveauction/pkg/auth"
)

type AuctionServiceHandler struct {
	auctionService *auctions.AuctionService
	catalog        *auctions.CatalogService
	logger         *slog.Logger
}

func NewAuctionServiceHandler(auctionService *auctions.AuctionService, catalog *auctions.CatalogService, logger *slog.Logger) *AuctionServiceHandler {
	return &AuctionServiceHandler{
		auctionService: auctionService,
		catalog:        catalog,
		logger:         logger,
	}
}

func (h *AuctionServiceHandler) PlaceBid(
	ctx context.Context,
	req *connect.Request[PlaceBidRequest],
) (*connect.Response[PlaceBidResponse], error) {
	// 1. Get user ID from context (guaranteed by auth interceptor at router level)
	bidderID := auth.MustGetUserID(ctx)

	// 2. Validation / Mapping
	auctionID, err := uuid.Parse(req.Msg.AuctionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid auctionId"))
	}
	if req.Msg.Amount <= 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("amount must be positive"))
	}

	// 3. Execution
	updated, err := h.auctionService.PlaceBid(ctx, auctions.PlaceBidCommand{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    req.Msg.Amount,
	})
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}

	return connect.NewResponse(&PlaceBidResponse{
		Message: fmt.Sprintf("Bid of $%s placed.", auctions.FormatAmount(req.Msg.Amount)),
		Auction: updated,
	}), nil
}

// CreateAuction lists a new auction owned by the caller
func (h *AuctionServiceHandler) CreateAuction(
	ctx context.Context,
	req *connect.Request[CreateAuctionRequest],
) (*connect.Response[AuctionResponse], error) {
	sellerID := auth.MustGetUserID(ctx)

	endTime, err := time.Parse(time.RFC3339, req.Msg.EndTime)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid endTime format"))
	}
	var startTime time.Time
	if req.Msg.StartTime != "" {
		if startTime, err = time.Parse(time.RFC3339, req.Msg.StartTime); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid startTime format"))
		}
	}

	auction, err := h.catalog.CreateAuction(ctx, auctions.CreateAuctionCommand{
		SellerID:         sellerID,
		Title:            req.Msg.Title,
		Description:      req.Msg.Description,
		Category:         req.Msg.Category,
		StartingPrice:    req.Msg.StartingPrice,
		MinimumIncrement: req.Msg.MinimumIncrement,
		StartTime:        startTime,
		EndTime:          endTime,
	})
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// GetAuction retrieves an auction with its bid history
func (h *AuctionServiceHandler) GetAuction(
	ctx context.Context,
	req *connect.Request[GetAuctionRequest],
) (*connect.Response[AuctionResponse], error) {
	id, err := uuid.Parse(req.Msg.ID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid id"))
	}

	auction, err := h.catalog.GetAuction(ctx, id)
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// ListAuctions is the public catalogue
func (h *AuctionServiceHandler) ListAuctions(
	ctx context.Context,
	req *connect.Request[ListAuctionsRequest],
) (*connect.Response[ListAuctionsResponse], error) {
	result, err := h.catalog.ListAuctions(ctx, listQuery(req.Msg))
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(listResponse(result)), nil
}

// ListMyAuctions lists the caller's auctions, or every auction for admins
func (h *AuctionServiceHandler) ListMyAuctions(
	ctx context.Context,
	req *connect.Request[ListAuctionsRequest],
) (*connect.Response[ListAuctionsResponse], error) {
	result, err := h.catalog.ListMyAuctions(ctx, actorFrom(ctx), listQuery(req.Msg))
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(listResponse(result)), nil
}

// UpdateAuction edits the fields present in the request
func (h *AuctionServiceHandler) UpdateAuction(
	ctx context.Context,
	req *connect.Request[UpdateAuctionRequest],
) (*connect.Response[AuctionResponse], error) {
	id, err := uuid.Parse(req.Msg.ID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid id"))
	}

	cmd := auctions.UpdateAuctionCommand{
		AuctionID:        id,
		Actor:            actorFrom(ctx),
		Title:            req.Msg.Title,
		Description:      req.Msg.Description,
		Category:         req.Msg.Category,
		StartingPrice:    req.Msg.StartingPrice,
		MinimumIncrement: req.Msg.MinimumIncrement,
	}
	if cmd.StartTime, err = parseOptionalTime(req.Msg.StartTime); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid startTime format"))
	}
	if cmd.EndTime, err = parseOptionalTime(req.Msg.EndTime); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid endTime format"))
	}
	if req.Msg.Status != nil {
		status := auctions.Status(*req.Msg.Status)
		cmd.Status = &status
	}

	auction, err := h.catalog.UpdateAuction(ctx, cmd)
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// CancelAuction cancels an auction that has not finished
func (h *AuctionServiceHandler) CancelAuction(
	ctx context.Context,
	req *connect.Request[CancelAuctionRequest],
) (*connect.Response[AuctionResponse], error) {
	id, err := uuid.Parse(req.Msg.ID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid id"))
	}

	auction, err := h.catalog.CancelAuction(ctx, id, actorFrom(ctx))
	if err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// DeleteAuction removes an auction and its bids
func (h *AuctionServiceHandler) DeleteAuction(
	ctx context.Context,
	req *connect.Request[DeleteAuctionRequest],
) (*connect.Response[DeleteAuctionResponse], error) {
	id, err := uuid.Parse(req.Msg.ID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid id"))
	}

	if err := h.catalog.DeleteAuction(ctx, id, actorFrom(ctx)); err != nil {
		return nil, h.toConnectError(ctx, err)
	}
	return connect.NewResponse(&DeleteAuctionResponse{}), nil
}

func actorFrom(ctx context.Context) auctions.Actor {
	return auctions.Actor{
		UserID: auth.MustGetUserID(ctx),
		Role:   auctions.Role(auth.GetRole(ctx)),
	}
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func listQuery(msg *ListAuctionsRequest) auctions.ListQuery {
	return auctions.ListQuery{
		Search:     msg.Search,
		Category:   msg.Category,
		Status:     auctions.Status(msg.Status),
		Phase:      auctions.Phase(msg.Phase),
		SortBy:     auctions.SortField(msg.SortBy),
		Descending: msg.SortOrder == "desc",
		Page:       msg.Page,
		Limit:      msg.Limit,
	}
}

func listResponse(result *auctions.ListResult) *ListAuctionsResponse {
	return &ListAuctionsResponse{
		Auctions:   result.Auctions,
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalPages: result.TotalPages,
	}
}

// toConnectError maps domain errors to Connect codes. Store failures are
// logged in full and reach the client as their bare sentinel only.
func (h *AuctionServiceHandler) toConnectError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, auctions.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, auctions.ErrNotFound)
	case errors.Is(err, auctions.ErrConflict):
		return connect.NewError(connect.CodeFailedPrecondition, auctions.ErrConflict)
	case errors.Is(err, auctions.ErrNotActive),
		errors.Is(err, auctions.ErrAuctionExpired),
		errors.Is(err, auctions.ErrBidTooLow):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, auctions.ErrSelfBid), errors.Is(err, auctions.ErrUnauthorized):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, auctions.ErrRejectedByStore):
		h.logStoreFailure(ctx, err)
		return connect.NewError(connect.CodeInvalidArgument, auctions.ErrRejectedByStore)
	case errors.Is(err, auctions.ErrInvalidInput):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, auctions.ErrStoreUnavailable):
		h.logStoreFailure(ctx, err)
		return connect.NewError(connect.CodeUnavailable, auctions.ErrStoreUnavailable)
	case errors.Is(err, auctions.ErrCommitUncertain):
		h.logStoreFailure(ctx, err)
		return connect.NewError(connect.CodeUnavailable, auctions.ErrCommitUncertain)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, context.Canceled)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, context.DeadlineExceeded)
	default:
		h.logStoreFailure(ctx, err)
		return connect.NewError(connect.CodeInternal, errInternal)
	}
}

var errInternal = errors.New("internal error")

func (h *AuctionServiceHandler) logStoreFailure(ctx context.Context, err error) {
	h.logger.ErrorContext(ctx, "Request failed in auction store", "error", err)
}
