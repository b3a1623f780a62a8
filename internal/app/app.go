package app

import (
	"go.uber.org/fx"

	"github.com/medisupply/procura/internal/cache"
	"github.com/medisupply/procura/internal/config"
	"github.com/medisupply/procura/internal/database"
	"github.com/medisupply/procura/internal/logger"
	"github.com/medisupply/procura/internal/messaging"
	"github.com/medisupply/procura/internal/notify"
	"github.com/medisupply/procura/internal/observability"
	repositoryorder "github.com/medisupply/procura/internal/repository/order"
	repositoryrequest "github.com/medisupply/procura/internal/repository/request"
	httpserver "github.com/medisupply/procura/internal/server/http"
	serviceorder "github.com/medisupply/procura/internal/service/order"
	servicerequest "github.com/medisupply/procura/internal/service/request"
	transporthttp "github.com/medisupply/procura/internal/transport/http"
	"github.com/medisupply/procura/internal/worker"
	workerprocurement "github.com/medisupply/procura/internal/worker/procurement"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	notify.Module,
	observability.Module,
	repositoryrequest.Module,
	repositoryorder.Module,
	servicerequest.Module,
	serviceorder.Module,
)

// HTTP wires the HTTP transport on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerprocurement.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
