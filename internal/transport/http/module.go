package http

import (
	"go.uber.org/fx"

	ordertransport "github.com/medisupply/procura/internal/transport/http/order"
	requesttransport "github.com/medisupply/procura/internal/transport/http/request"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	requesttransport.Module,
	ordertransport.Module,
)
