package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	scrollPageSize = 512
	// scrollResultCap bounds a full enumeration so discovery resources
	// terminate on large collections.
	scrollResultCap = 10000
)

// Scroller is a finite, non-restartable page iterator over a collection's
// points. Each Next call fetches one page; ok reports whether more pages
// remain.
type Scroller struct {
	client     *Client
	collection string
	fields     []string
	filter     map[string]any

	offset    any
	started   bool
	exhausted bool
	yielded   int
}

// NewScroller prepares a lazy enumeration of points matching the filter,
// returning only the requested payload fields.
func (c *Client) NewScroller(collection string, fields []string, filter map[string]any) *Scroller {
	return &Scroller{
		client:     c,
		collection: collection,
		fields:     fields,
		filter:     filter,
	}
}

// Next fetches the next page. ok is false once the sequence is exhausted or
// the overall result cap is reached; after that Next keeps returning empty
// pages.
func (s *Scroller) Next(ctx context.Context) (points []ScrollPoint, ok bool, err error) {
	if s.exhausted {
		return nil, false, nil
	}

	body := map[string]any{
		"with_payload": s.fields,
		"with_vector":  false,
		"limit":        scrollPageSize,
		"order_by":     []any{map[string]any{"key": "timestamp", "direction": "asc"}},
	}
	if s.filter != nil {
		body["filter"] = s.filter
	} else {
		body["filter"] = map[string]any{"must": []any{}}
	}
	if s.started && s.offset != nil {
		body["offset"] = s.offset
	}
	s.started = true

	resp, err := s.client.do(ctx, http.MethodPost, "collections/"+s.collection+"/points/scroll", body)
	if err != nil {
		s.exhausted = true
		return nil, false, err
	}
	defer resp.Body.Close()
	if err := ensureSuccess(resp); err != nil {
		s.exhausted = true
		s.client.logger.Printf("scroll of %s failed: %v", s.collection, err)
		return nil, false, err
	}

	var payload scrollResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		s.exhausted = true
		return nil, false, fmt.Errorf("decode scroll response: %w", err)
	}

	page := make([]ScrollPoint, 0, len(payload.Result.Points))
	for _, point := range payload.Result.Points {
		if point.Payload == nil {
			continue
		}
		page = append(page, ScrollPoint{
			ID:      stringifyPointID(point.ID),
			Payload: point.Payload,
		})
	}

	if remaining := scrollResultCap - s.yielded; len(page) > remaining {
		page = page[:remaining]
	}
	s.yielded += len(page)
	s.offset = payload.Result.NextPageOffset
	if s.offset == nil || s.yielded >= scrollResultCap {
		s.exhausted = true
		return page, false, nil
	}
	return page, true, nil
}
