package notify

import "go.uber.org/fx"

// Module provides the dispatcher and trigger to Fx.
var Module = fx.Options(
	fx.Provide(NewMessagingDispatcher),
	fx.Provide(NewTrigger),
)
