package reporting

import (
	"context"
	"time"

	"callsense/internal/calls"
)

// StoreRepo answers reporting queries from a calls.Store.
type StoreRepo struct {
	Store calls.Store
}

func (r StoreRepo) ListCalls(ctx context.Context, companyID string, from, to time.Time) ([]calls.CallRecord, error) {
	all, err := r.Store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]calls.CallRecord, 0, len(all))
	for _, c := range all {
		if c.CompanyID != companyID || c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
