package main

import (
	"go.uber.org/fx"

	"github.com/medisupply/procura/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
