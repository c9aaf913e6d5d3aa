// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gdamore/daemonvisor"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// MaxConns limits concurrent connections on the status socket.
const MaxConns = 16

// Handler serves a Supervisor's status, its log ring, and its metrics.
type Handler struct {
	s   *daemonvisor.Supervisor
	log *daemonvisor.Log
	r   *mux.Router
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func workerInfo(ws daemonvisor.WorkerStatus) WorkerInfo {
	return WorkerInfo{
		Name:     ws.Name,
		Entry:    ws.Entry,
		Pid:      ws.Pid,
		Alive:    ws.Alive,
		Restarts: ws.Restarts,
		Started:  ws.Started,
	}
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	st := h.s.Status()
	info := &DaemonInfo{
		Pid:          st.Pid,
		Phase:        st.Phase.String(),
		Started:      st.Started,
		RestartLimit: st.RestartLimit,
		Workers:      make([]WorkerInfo, 0, len(st.Workers)),
	}
	for _, ws := range st.Workers {
		info.Workers = append(info.Workers, workerInfo(ws))
	}
	h.writeJson(w, info)
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	st := h.s.Status()
	l := make([]string, 0, len(st.Workers))
	for _, ws := range st.Workers {
		l = append(l, ws.Name)
	}
	h.writeJson(w, l)
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["worker"]
	for _, ws := range h.s.Status().Workers {
		if ws.Name == name {
			h.writeJson(w, workerInfo(ws))
			return
		}
	}
	h.writeError(w, &Error{http.StatusNotFound, "Worker not found"})
}

// getLog returns the retained log records.  The Etag is the log's change
// ID; with If-None-Match and a poll time, the request waits for the log to
// change before answering.
func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	var last int64
	if tag := r.Header.Get("If-None-Match"); tag != "" {
		if v, e := strconv.ParseInt(tag, 10, 64); e == nil {
			last = v
			if secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader)); e == nil && secs > 0 {
				if secs > MaxPollTime {
					secs = MaxPollTime
				}
				h.log.Watch(last, time.Duration(secs)*time.Second)
			}
		}
	}
	recs, id := h.log.GetRecords(last)
	w.Header().Set("Etag", strconv.FormatInt(id, 10))
	if recs == nil && last != 0 {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	out := make([]LogRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, LogRecord{
			Id:     rec.Id,
			Time:   rec.Time,
			Level:  rec.Level,
			Worker: rec.Worker,
			Text:   rec.Text,
		})
	}
	h.writeJson(w, out)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns a Handler for s.  log may be nil, in which case the
// log endpoint is not served.
func NewHandler(s *daemonvisor.Supervisor, log *daemonvisor.Log) *Handler {
	r := mux.NewRouter()
	h := &Handler{s: s, log: log, r: r}
	r.HandleFunc("/status", h.getStatus).Methods("GET")
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/workers/{worker}", h.getWorker).Methods("GET")
	if log != nil {
		r.HandleFunc("/log", h.getLog).Methods("GET")
	}
	r.Handle("/metrics", promhttp.HandlerFor(s.Metrics().Registry,
		promhttp.HandlerOpts{})).Methods("GET")
	return h
}

// Serve listens on the unix socket at path and serves h until ctx is
// done.  A stale socket file is replaced.
func Serve(ctx context.Context, path string, h http.Handler, logger logrus.FieldLogger) error {
	if e := os.Remove(path); e != nil && !errors.Is(e, fs.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", e)
	}
	l, e := net.Listen("unix", path)
	if e != nil {
		return e
	}
	if e := os.Chmod(path, 0660); e != nil {
		l.Close()
		return e
	}
	l = netutil.LimitListener(l, MaxConns)

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	logger.WithField("sock_file", path).Info("Serving status")
	if e := srv.Serve(l); e != nil && !errors.Is(e, http.ErrServerClosed) {
		return e
	}
	return nil
}
