package controllers

import (
	"net/http"

	"github.com/digimarket/marketcore/api/middleware"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/types"
)

func requestActor(r *http.Request) (types.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor required")
	}
	return actor, nil
}

func unavailable(name string) error {
	return pkgerrors.New(pkgerrors.CodeInternal, name+" service unavailable")
}
