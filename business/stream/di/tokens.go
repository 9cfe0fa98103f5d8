// Package di contains dependency injection tokens for the stream context.
package di

import (
	"github.com/fd1az/pricestream/business/stream/app"
	"github.com/fd1az/pricestream/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Engine = di.NewToken[*app.Engine]("stream.Engine")
)

// Private dependency tokens - internal to stream module
var (
	Catalog = di.NewToken[app.Catalog]("stream:catalog")
)

// Helper functions for type-safe access
func GetEngine(c di.ServiceRegistry) *app.Engine {
	return di.GetToken(c, Engine)
}

func GetCatalog(c di.ServiceRegistry) app.Catalog {
	return di.GetToken(c, Catalog)
}
