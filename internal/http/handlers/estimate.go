package handlers

import (
	"net/http"
	"strconv"

	"github.com/DavidJBarnes/wanly-api/internal/queue"
)

type estimateResponse struct {
	EstimatedRunTime *float64 `json:"estimated_run_time"`
}

func (a *App) Estimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width, errW := strconv.Atoi(q.Get("width"))
	height, errH := strconv.Atoi(q.Get("height"))
	fps, errF := strconv.Atoi(q.Get("fps"))
	duration, errD := strconv.ParseFloat(q.Get("duration"), 64)
	if errW != nil || errH != nil || errF != nil || errD != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "width, height, fps and duration are required numbers")
		return
	}
	est, err := a.Queue.EstimateRunTime(r.Context(), a.currentUserID(r), queue.EstimateQuery{
		Width:           width,
		Height:          height,
		FPS:             fps,
		DurationSeconds: duration,
		Worker:          q.Get("worker"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, estimateResponse{EstimatedRunTime: est})
}

func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Queue.Stats(r.Context(), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}
