// Package params reads the cloud route parameters shared by the node's
// handlers.
package params

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ardanlabs/encloud/business/web/errs"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/web"
)

// Cloud returns the cloud id from the :cloud parameter.
func Cloud(r *http.Request) (identity.CloudID, error) {
	cloudID, err := identity.ToCloudID(web.Param(r, "cloud"))
	if err != nil {
		return identity.CloudID{}, errs.NewTrusted(fmt.Errorf("cloud: %w", err), http.StatusBadRequest)
	}
	return cloudID, nil
}

// Index returns the parameter as a mutation index. The value "latest" or an
// empty value maps to state.QueryLatest.
func Index(r *http.Request, name string) (uint64, error) {
	v := web.Param(r, name)
	if v == "latest" || v == "" {
		return state.QueryLatest, nil
	}

	index, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errs.NewTrusted(fmt.Errorf("%s: %w", name, err), http.StatusBadRequest)
	}
	return index, nil
}

// Range returns the :from and :to parameters.
func Range(r *http.Request) (uint64, uint64, error) {
	from, err := Index(r, "from")
	if err != nil {
		return 0, 0, err
	}

	to, err := Index(r, "to")
	if err != nil {
		return 0, 0, err
	}

	if from != state.QueryLatest && to != state.QueryLatest && from > to {
		return 0, 0, errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	return from, to, nil
}
