package remote

import (
	"context"
	"fmt"

	postgrest "github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// Filter is a set of column equality conditions.
type Filter map[string]string

// Order sorts a selection by one column.
type Order struct {
	Column string
	Desc   bool
}

// Store is the document API the adapter needs. Update returns the rows it
// changed as a JSON array so callers can detect a failed version check.
type Store interface {
	Select(ctx context.Context, table string, filter Filter, order *Order) ([]byte, error)
	Insert(ctx context.Context, table string, rows any) error
	Update(ctx context.Context, table string, values any, filter Filter) ([]byte, error)
	Delete(ctx context.Context, table string, filter Filter) error
}

// SupabaseStore runs Store calls against PostgREST through supabase-go.
type SupabaseStore struct {
	client *supabase.Client
}

func NewSupabaseStore(url, key string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

func (s *SupabaseStore) Select(ctx context.Context, table string, filter Filter, order *Order) ([]byte, error) {
	return do(ctx, func() ([]byte, error) {
		q := s.client.From(table).Select("*", "", false).Match(filter)
		if order != nil {
			q = q.Order(order.Column, &postgrest.OrderOpts{Ascending: !order.Desc})
		}
		data, _, err := q.Execute()
		return data, err
	})
}

func (s *SupabaseStore) Insert(ctx context.Context, table string, rows any) error {
	_, err := do(ctx, func() ([]byte, error) {
		data, _, err := s.client.From(table).Insert(rows, false, "", "minimal", "").Execute()
		return data, err
	})
	return err
}

func (s *SupabaseStore) Update(ctx context.Context, table string, values any, filter Filter) ([]byte, error) {
	return do(ctx, func() ([]byte, error) {
		data, _, err := s.client.From(table).Update(values, "representation", "").Match(filter).Execute()
		return data, err
	})
}

func (s *SupabaseStore) Delete(ctx context.Context, table string, filter Filter) error {
	_, err := do(ctx, func() ([]byte, error) {
		data, _, err := s.client.From(table).Delete("minimal", "").Match(filter).Execute()
		return data, err
	})
	return err
}

// do bounds a blocking PostgREST call by ctx. postgrest-go takes no context,
// so an abandoned request keeps running in the background until it returns.
func do(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := fn()
		ch <- result{data: data, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.data, r.err
	}
}
