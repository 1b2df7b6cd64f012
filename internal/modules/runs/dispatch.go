package runs

import (
	"net/http"

	"github.com/aristath/quantlab/internal/utils"
	"github.com/rs/zerolog"
)

// Dispatch executes work for an HTTP request and writes the response.
// Synchronous runs answer 200 with the finished run, or the status mapped
// from the work error. Asynchronous runs answer 202 with the running run,
// whose progress streams on the event bus.
func Dispatch(w http.ResponseWriter, r *http.Request, svc *Service, log zerolog.Logger, kind Kind, async bool, request any, work Work) {
	if async {
		run, err := svc.Submit(kind, request, work)
		if err != nil {
			utils.WriteError(w, log, http.StatusServiceUnavailable, err.Error())
			return
		}
		utils.WriteJSON(w, log, http.StatusAccepted, run)
		return
	}

	run, err := svc.Execute(r.Context(), kind, request, work)
	if run == nil {
		utils.WriteError(w, log, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		utils.WriteJSON(w, log, utils.ErrorStatus(err), map[string]string{
			"error":  err.Error(),
			"run_id": run.ID,
		})
		return
	}
	utils.WriteJSON(w, log, http.StatusOK, run)
}
