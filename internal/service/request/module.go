package request

import "go.uber.org/fx"

// Module provides the request service to Fx.
var Module = fx.Provide(NewService)
