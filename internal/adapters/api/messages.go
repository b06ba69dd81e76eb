package api

import "github.com/floroz/liveauction/internal/domain/auctions"

// Times are RFC 3339 strings; amounts are minor currency units.

type PlaceBidRequest struct {
	AuctionID string `json:"auctionId"`
	Amount    int64  `json:"amount"`
}

type PlaceBidResponse struct {
	Message string            `json:"message"`
	Auction *auctions.Auction `json:"auction"`
}

type CreateAuctionRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	StartingPrice    int64  `json:"startingPrice"`
	MinimumIncrement int64  `json:"minimumIncrement"`
	StartTime        string `json:"startTime,omitempty"`
	EndTime          string `json:"endTime"`
}

type GetAuctionRequest struct {
	ID string `json:"id"`
}

type UpdateAuctionRequest struct {
	ID               string  `json:"id"`
	Title            *string `json:"title,omitempty"`
	Description      *string `json:"description,omitempty"`
	Category         *string `json:"category,omitempty"`
	StartingPrice    *int64  `json:"startingPrice,omitempty"`
	MinimumIncrement *int64  `json:"minimumIncrement,omitempty"`
	StartTime        *string `json:"startTime,omitempty"`
	EndTime          *string `json:"endTime,omitempty"`
	Status           *string `json:"status,omitempty"`
}

type CancelAuctionRequest struct {
	ID string `json:"id"`
}

type DeleteAuctionRequest struct {
	ID string `json:"id"`
}

type DeleteAuctionResponse struct{}

// AuctionResponse wraps a single auction
type AuctionResponse struct {
	Auction *auctions.Auction `json:"auction"`
}

type ListAuctionsRequest struct {
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status,omitempty"`
	Phase    string `json:"phase,omitempty"`
	SortBy   string `json:"sortBy,omitempty"`
	// SortOrder is "asc" or "desc"
	SortOrder string `json:"sortOrder,omitempty"`
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type ListAuctionsResponse struct {
	Auctions   []*auctions.Auction `json:"auctions"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
	TotalPages int                 `json:"totalPages"`
}
