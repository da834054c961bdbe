package graphql

import (
	"net/http"

	"github.com/graphql-go/handler"
)

// NewHandler creates a new GraphQL HTTP handler
func NewHandler(cfg Config) (http.Handler, error) {
	schema, err := NewSchema(cfg)
	if err != nil {
		return nil, err
	}

	h := handler.New(&handler.Config{
		Schema:     &schema.schema,
		Pretty:     true,
		GraphiQL:   true,
		Playground: false,
	})

	return h, nil
}
