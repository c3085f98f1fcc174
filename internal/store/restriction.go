package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// RestrictionFilter narrows a mutation filter to the documents the calling
// context may touch. Apply must be idempotent and side-effect-free: it
// returns a new filter and never mutates its argument. It is injected at
// store construction and runs on every restricted update path.
type RestrictionFilter interface {
	Apply(ctx context.Context, filter bson.M) (bson.M, error)
}

// PassthroughFilter applies no restriction. Used by deployments without
// unit-based visibility.
type PassthroughFilter struct{}

func (PassthroughFilter) Apply(_ context.Context, filter bson.M) (bson.M, error) {
	return filter, nil
}

// UnitsFunc resolves the unit ids visible to the calling context. An empty
// result means unrestricted visibility (global operators).
type UnitsFunc func(ctx context.Context) ([]string, error)

// UnitFilter restricts mutations to rooms associated with one of the
// caller's visible units, either through the ancestor list or directly by
// department.
type UnitFilter struct {
	Units UnitsFunc
}

func (f UnitFilter) Apply(ctx context.Context, filter bson.M) (bson.M, error) {
	units, err := f.Units(ctx)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return filter, nil
	}

	scope := bson.M{
		"$or": []bson.M{
			{"departmentAncestors": bson.M{"$in": units}},
			{"departmentId": bson.M{"$in": units}},
		},
	}
	if len(filter) == 0 {
		return scope, nil
	}
	return bson.M{"$and": []bson.M{copyFilter(filter), scope}}, nil
}

func copyFilter(filter bson.M) bson.M {
	out := make(bson.M, len(filter))
	for k, v := range filter {
		out[k] = v
	}
	return out
}
