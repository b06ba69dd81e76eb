package database

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/floroz/liveauction/internal/domain/auctions"
)

// encodeEventPayload renders the auction state after a write as a protobuf
// Struct, the body consumers receive for every outbox event. Struct numbers
// are doubles, so amounts and versions travel as decimal strings.
func encodeEventPayload(eventType auctions.EventType, a *auctions.Auction, occurredAt time.Time) ([]byte, error) {
	fields := map[string]any{
		"eventType":     string(eventType),
		"auctionId":     a.ID.String(),
		"status":        string(a.Status),
		"title":         a.Title,
		"createdBy":     a.CreatedBy.String(),
		"currentPrice":  decimal(a.CurrentPrice),
		"startingPrice": decimal(a.StartingPrice),
		"version":       decimal(a.Version),
		"startTime":     a.StartTime.UTC().Format(time.RFC3339Nano),
		"endTime":       a.EndTime.UTC().Format(time.RFC3339Nano),
		"occurredAt":    occurredAt.UTC().Format(time.RFC3339Nano),
	}
	if a.HighestBidder != nil {
		fields["highestBidder"] = a.HighestBidder.String()
	}
	if eventType == auctions.EventBidPlaced && a.HasBids() {
		last := a.Bids[len(a.Bids)-1]
		fields["bidId"] = last.ID.String()
		fields["bidderId"] = last.BidderID.String()
		fields["amount"] = decimal(last.Amount)
	}

	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build event payload: %w", err)
	}
	return proto.Marshal(payload)
}

func decimal(n int64) string {
	return strconv.FormatInt(n, 10)
}

// DecodeEventPayload is the consumer side of encodeEventPayload
func DecodeEventPayload(body []byte) (map[string]any, error) {
	var payload structpb.Struct
	if err := proto.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}
	return payload.AsMap(), nil
}
