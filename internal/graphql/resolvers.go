package graphql

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"microchallenges/internal/api"
	"microchallenges/internal/pagination"
	"microchallenges/internal/storage"

	"github.com/graphql-go/graphql"
)

var errNoStore = errors.New("delivery audit log is disabled")

// resolveDeliveries handles the deliveries query
func (s *Schema) resolveDeliveries(p graphql.ResolveParams) (interface{}, error) {
	if s.store == nil {
		return nil, errNoStore
	}

	opts := storage.QueryOptions{
		Limit: api.DefaultListLimit,
	}

	if outcome, ok := p.Args["outcome"].(string); ok && outcome != "" {
		opts.Outcomes = []string{outcome}
	}
	if path, ok := p.Args["path"].(string); ok {
		opts.Path = path
	}
	if addr, ok := p.Args["remoteAddr"].(string); ok {
		opts.RemoteAddr = addr
	}
	if since, ok := p.Args["since"].(time.Time); ok {
		opts.Since = since
	}
	if until, ok := p.Args["until"].(time.Time); ok {
		opts.Until = until
	}
	if limit, ok := p.Args["limit"].(int); ok && limit > 0 {
		opts.Limit = min(limit, api.MaxListLimit)
	}
	if offset, ok := p.Args["offset"].(int); ok && offset >= 0 {
		opts.Offset = offset
	}

	deliveries, total, err := s.store.ListDeliveries(p.Context, opts)
	if err != nil {
		s.logger.Error("Error listing deliveries", "error", err)
		return nil, err
	}

	return map[string]interface{}{
		"deliveries": deliveries,
		"total":      total,
	}, nil
}

// resolveDelivery handles the delivery query
func (s *Schema) resolveDelivery(p graphql.ResolveParams) (interface{}, error) {
	if s.store == nil {
		return nil, errNoStore
	}

	id, ok := p.Args["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("invalid delivery ID")
	}

	d, err := s.store.GetDelivery(p.Context, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("delivery not found")
	}
	if err != nil {
		s.logger.Error("Error getting delivery", "error", err)
		return nil, err
	}

	return d, nil
}

// resolveStats handles the stats query
func (s *Schema) resolveStats(p graphql.ResolveParams) (interface{}, error) {
	if s.store == nil {
		return nil, errNoStore
	}

	var since time.Time
	if sinceArg, ok := p.Args["since"].(time.Time); ok {
		since = sinceArg
	}

	statsMap, err := s.store.GetStats(p.Context, since)
	if err != nil {
		s.logger.Error("Error getting stats", "error", err)
		return nil, err
	}

	stats := make([]storage.OutcomeStat, 0, len(statsMap))
	for outcome, count := range statsMap {
		stats = append(stats, storage.OutcomeStat{Outcome: outcome, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Outcome < stats[j].Outcome
	})

	return stats, nil
}

// resolveItems handles the items query
func (s *Schema) resolveItems(p graphql.ResolveParams) (interface{}, error) {
	page, _ := p.Args["page"].(int)
	limit, _ := p.Args["limit"].(int)
	return pagination.Paginate(s.items, page, limit), nil
}

// resolveFibonacci handles the fibonacci query on the worker pool
func (s *Schema) resolveFibonacci(p graphql.ResolveParams) (interface{}, error) {
	if s.pool == nil {
		return nil, errors.New("worker pool is not configured")
	}

	n, _ := p.Args["n"].(int)
	future := s.pool.Submit(p.Context, n)
	result, err := future.Wait(p.Context)
	if err != nil {
		future.Cancel()
		return nil, err
	}

	return map[string]interface{}{
		"n":      n,
		"result": strconv.FormatUint(result, 10),
	}, nil
}
