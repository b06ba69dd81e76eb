package api

import (
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// AuctionServiceName is the fully-qualified name of the auction service
const AuctionServiceName = "liveauction.v1.AuctionService"

// Procedure paths, the same shape protoc-gen-connect-go would emit
const (
	PlaceBidProcedure       = "/" + AuctionServiceName + "/PlaceBid"
	CreateAuctionProcedure  = "/" + AuctionServiceName + "/CreateAuction"
	GetAuctionProcedure     = "/" + AuctionServiceName + "/GetAuction"
	ListAuctionsProcedure   = "/" + AuctionServiceName + "/ListAuctions"
	ListMyAuctionsProcedure = "/" + AuctionServiceName + "/ListMyAuctions"
	UpdateAuctionProcedure  = "/" + AuctionServiceName + "/UpdateAuction"
	CancelAuctionProcedure  = "/" + AuctionServiceName + "/CancelAuction"
	DeleteAuctionProcedure  = "/" + AuctionServiceName + "/DeleteAuction"
)

// PublicProcedures may be called without a token
var PublicProcedures = []string{GetAuctionProcedure, ListAuctionsProcedure}

// NewAuctionServiceHTTPHandler builds the HTTP handler for every procedure and
// returns the path prefix to mount it on.
func NewAuctionServiceHTTPHandler(h *AuctionServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSONCodec()}, opts...)

	handlers := map[string]http.Handler{
		PlaceBidProcedure:       connect.NewUnaryHandler(PlaceBidProcedure, h.PlaceBid, opts...),
		CreateAuctionProcedure:  connect.NewUnaryHandler(CreateAuctionProcedure, h.CreateAuction, opts...),
		GetAuctionProcedure:     connect.NewUnaryHandler(GetAuctionProcedure, h.GetAuction, opts...),
		ListAuctionsProcedure:   connect.NewUnaryHandler(ListAuctionsProcedure, h.ListAuctions, opts...),
		ListMyAuctionsProcedure: connect.NewUnaryHandler(ListMyAuctionsProcedure, h.ListMyAuctions, opts...),
		UpdateAuctionProcedure:  connect.NewUnaryHandler(UpdateAuctionProcedure, h.UpdateAuction, opts...),
		CancelAuctionProcedure:  connect.NewUnaryHandler(CancelAuctionProcedure, h.CancelAuction, opts...),
		DeleteAuctionProcedure:  connect.NewUnaryHandler(DeleteAuctionProcedure, h.DeleteAuction, opts...),
	}

	return "/" + AuctionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.URL.Path]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// AuctionServiceClient calls the auction service over the Connect protocol
type AuctionServiceClient struct {
	PlaceBid       *connect.Client[PlaceBidRequest, PlaceBidResponse]
	CreateAuction  *connect.Client[CreateAuctionRequest, AuctionResponse]
	GetAuction     *connect.Client[GetAuctionRequest, AuctionResponse]
	ListAuctions   *connect.Client[ListAuctionsRequest, ListAuctionsResponse]
	ListMyAuctions *connect.Client[ListAuctionsRequest, ListAuctionsResponse]
	UpdateAuction  *connect.Client[UpdateAuctionRequest, AuctionResponse]
	CancelAuction  *connect.Client[CancelAuctionRequest, AuctionResponse]
	DeleteAuction  *connect.Client[DeleteAuctionRequest, DeleteAuctionResponse]
}

func NewAuctionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AuctionServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSONCodec()}, opts...)

	return &AuctionServiceClient{
		PlaceBid:       connect.NewClient[PlaceBidRequest, PlaceBidResponse](httpClient, baseURL+PlaceBidProcedure, opts...),
		CreateAuction:  connect.NewClient[CreateAuctionRequest, AuctionResponse](httpClient, baseURL+CreateAuctionProcedure, opts...),
		GetAuction:     connect.NewClient[GetAuctionRequest, AuctionResponse](httpClient, baseURL+GetAuctionProcedure, opts...),
		ListAuctions:   connect.NewClient[ListAuctionsRequest, ListAuctionsResponse](httpClient, baseURL+ListAuctionsProcedure, opts...),
		ListMyAuctions: connect.NewClient[ListAuctionsRequest, ListAuctionsResponse](httpClient, baseURL+ListMyAuctionsProcedure, opts...),
		UpdateAuction:  connect.NewClient[UpdateAuctionRequest, AuctionResponse](httpClient, baseURL+UpdateAuctionProcedure, opts...),
		CancelAuction:  connect.NewClient[CancelAuctionRequest, AuctionResponse](httpClient, baseURL+CancelAuctionProcedure, opts...),
		DeleteAuction:  connect.NewClient[DeleteAuctionRequest, DeleteAuctionResponse](httpClient, baseURL+DeleteAuctionProcedure, opts...),
	}
}
