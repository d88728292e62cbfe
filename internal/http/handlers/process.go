package handlers

import (
	"net/http"
)

// ProcessImage drives one queued job through generation. Failures still
// leave the job in error; the response carries the reason.
func (a *App) ProcessImage(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.validate(req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Processor.Process(r.Context(), req.ImageID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, processResponse{Success: true, ImageURL: res.ImageURL})
}
