package private

import (
	"net/http"

	"github.com/porchain/porchain/foundation/por/state"
	"github.com/porchain/porchain/foundation/web"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Routes binds all the private routes.
func Routes(app *web.App, cfg Config) {
	prv := Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	const version = "v1"

	app.Handle(http.MethodPost, version, "/node/peers", prv.SubmitPeer)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/blocks/:from/:to", prv.BlocksByHeight)
	app.Handle(http.MethodPost, version, "/node/block/next", prv.AddNextBlock)
	app.Handle(http.MethodPost, version, "/node/challenge", prv.SubmitChallenge)
}
