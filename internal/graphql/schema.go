package graphql

import (
	"log/slog"

	"microchallenges/internal/api"
	"microchallenges/internal/pagination"
	"microchallenges/internal/storage"
	"microchallenges/internal/worker"

	"github.com/graphql-go/graphql"
)

// Config wires the schema to its data sources. Store may be nil when the
// audit log is disabled; delivery queries then fail with an error.
type Config struct {
	Store  storage.Storage
	Items  []pagination.Item
	Pool   *worker.Pool
	Logger *slog.Logger
}

// Schema defines the GraphQL schema and resolvers
type Schema struct {
	schema graphql.Schema
	store  storage.Storage
	items  []pagination.Item
	pool   *worker.Pool
	logger *slog.Logger
}

// NewSchema creates the GraphQL schema over the audit log, the demo
// collection and the Fibonacci worker pool.
func NewSchema(cfg Config) (*Schema, error) {
	s := &Schema{
		store:  cfg.Store,
		items:  cfg.Items,
		pool:   cfg.Pool,
		logger: cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	deliveryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Delivery",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.String,
			},
			"outcome": &graphql.Field{
				Type: graphql.String,
			},
			"path": &graphql.Field{
				Type: graphql.String,
			},
			"payload": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if d, ok := p.Source.(*storage.Delivery); ok && len(d.Payload) > 0 {
						return string(d.Payload), nil
					}
					return nil, nil
				},
			},
			"payloadSha256": &graphql.Field{
				Type: graphql.String,
			},
			"payloadSize": &graphql.Field{
				Type: graphql.Int,
			},
			"contentType": &graphql.Field{
				Type: graphql.String,
			},
			"remoteAddr": &graphql.Field{
				Type: graphql.String,
			},
			"createdAt": &graphql.Field{
				Type: graphql.DateTime,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if d, ok := p.Source.(*storage.Delivery); ok {
						return d.CreatedAt, nil
					}
					return nil, nil
				},
			},
		},
	})

	deliveriesResponseType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DeliveriesResponse",
		Fields: graphql.Fields{
			"deliveries": &graphql.Field{
				Type: graphql.NewList(deliveryType),
			},
			"total": &graphql.Field{
				Type: graphql.Int,
			},
		},
	})

	statType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Stat",
		Fields: graphql.Fields{
			"outcome": &graphql.Field{
				Type: graphql.String,
			},
			"count": &graphql.Field{
				Type: graphql.Int,
			},
		},
	})

	itemType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Item",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.Int,
			},
			"value": &graphql.Field{
				Type: graphql.String,
			},
		},
	})

	itemsPageType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ItemsPage",
		Fields: graphql.Fields{
			"items": &graphql.Field{
				Type: graphql.NewList(itemType),
			},
			"total": &graphql.Field{
				Type: graphql.Int,
			},
			"page": &graphql.Field{
				Type: graphql.Int,
			},
			"limit": &graphql.Field{
				Type: graphql.Int,
			},
		},
	})

	// result exceeds the 32-bit GraphQL Int for large n, so it is a String.
	fibonacciType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Fibonacci",
		Fields: graphql.Fields{
			"n": &graphql.Field{
				Type: graphql.Int,
			},
			"result": &graphql.Field{
				Type: graphql.String,
			},
		},
	})

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "RootQuery",
		Fields: graphql.Fields{
			"deliveries": &graphql.Field{
				Type: deliveriesResponseType,
				Args: graphql.FieldConfigArgument{
					"outcome": &graphql.ArgumentConfig{
						Type: graphql.String,
					},
					"path": &graphql.ArgumentConfig{
						Type: graphql.String,
					},
					"remoteAddr": &graphql.ArgumentConfig{
						Type: graphql.String,
					},
					"since": &graphql.ArgumentConfig{
						Type: graphql.DateTime,
					},
					"until": &graphql.ArgumentConfig{
						Type: graphql.DateTime,
					},
					"limit": &graphql.ArgumentConfig{
						Type: graphql.Int,
					},
					"offset": &graphql.ArgumentConfig{
						Type: graphql.Int,
					},
				},
				Resolve: s.resolveDeliveries,
			},
			"delivery": &graphql.Field{
				Type: deliveryType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
				},
				Resolve: s.resolveDelivery,
			},
			"stats": &graphql.Field{
				Type: graphql.NewList(statType),
				Args: graphql.FieldConfigArgument{
					"since": &graphql.ArgumentConfig{
						Type: graphql.DateTime,
					},
				},
				Resolve: s.resolveStats,
			},
			"items": &graphql.Field{
				Type: itemsPageType,
				Args: graphql.FieldConfigArgument{
					"page": &graphql.ArgumentConfig{
						Type:         graphql.Int,
						DefaultValue: pagination.DefaultPage,
					},
					"limit": &graphql.ArgumentConfig{
						Type:         graphql.Int,
						DefaultValue: pagination.DefaultLimit,
					},
				},
				Resolve: s.resolveItems,
			},
			"fibonacci": &graphql.Field{
				Type: fibonacciType,
				Args: graphql.FieldConfigArgument{
					"n": &graphql.ArgumentConfig{
						Type:         graphql.Int,
						DefaultValue: api.DefaultFibonacciN,
					},
				},
				Resolve: s.resolveFibonacci,
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
	if err != nil {
		return nil, err
	}

	s.schema = schema
	return s, nil
}
