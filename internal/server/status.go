// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	sigar "github.com/cloudfoundry/gosigar"

	log "github.com/golang/glog"

	"github.com/wrensuess/forcepho/internal/dispatch"
)

const statusTemplateStr = `
<!doctype html>
<html lang="en">
<head>
  <title>fpho dispatcher status</title>
  <style>
    caption {
      caption-side: top;
      text-align: left;
      font-weight: bold;
    }
    table.status {
      border-collapse: collapse;
    }
    table.status td {
      border: 1px solid #DDD;
      text-align: left;
      padding-left: 8px;
      padding-right: 8px;
      padding-top: 4px;
      padding-bottom: 4px;
    }
    table.status th {
      border: 1px solid #DDD;
      text-align: left;
      padding: 8px;
      background-color: #009900;
      color: white;
    }
    table.status tr:nth-child(even) {background-color: #F2F2F2;}
    table.status tr:hover {background-color: #DDD;}

    table.catalog th {
      background-color: #3399FF;
    }
  </style>
</head>

<body>

<h3>
{{if .JobName}}
	{{.JobName}}
{{else}}
	fpho-dispatch
{{end}}
</h3>

<table>
  <tr>
    <td>Addr:</td>
    <td><a href="http://{{.Cfg.Addr}}">{{.Cfg.Addr}}</a></td>
  </tr>
  <tr>
    <td>Free memory:</td>
    <td>{{.FreeMem}} / {{.TotalMem}} mb</td>
  </tr>
  <tr>
    <td>Last reboot:</td>
    <td>{{.Reboot}}</td>
  </tr>
</table>

<br>
<table class="status catalog">
  <caption>Catalog</caption>
  <tr>
    <th>Sources</th>
    <th>Active</th>
    <th>Fixed</th>
    <th>Valid</th>
    <th>Done</th>
    <th>Patches</th>
    <th>Sparse</th>
    <th>Complete</th>
  </tr>
  <tr>
    <td>{{.Catalog.NSources}}</td>
    <td>{{.Catalog.NActive}}</td>
    <td>{{.Catalog.NFixed}}</td>
    <td>{{.Catalog.NValid}}</td>
    <td>{{.Catalog.NDone}} ({{printf "%.1f" .PctDone}}%)</td>
    <td>{{.Catalog.NPatches}}</td>
    <td>{{.Catalog.Sparse}}</td>
    <td>{{.Catalog.Done}}</td>
  </tr>
</table>

<br>
<hr></hr>
<table class="status">
  <caption>Op Metrics</caption>
  <tr>
    <th>Op</th>
    <th>Stats</th>
  </tr>
  {{range $k, $v := .Ops}}
  <tr>
    <td>{{$k}}</td>
    <td>{{$v}}</td>
  </tr>
  {{end}}
</table>

status update time: {{.Now}}
</body>
</html>
`

// StatusData includes dispatcher status info.
type StatusData struct {
	JobName  string
	Cfg      Config
	FreeMem  uint64
	TotalMem uint64
	Catalog  dispatch.Stats
	PctDone  float64

	Reboot time.Time
	Ops    map[string]string
	Now    time.Time
}

const mb = 1024 * 1024

var (
	// When was the last reboot?
	reboot = time.Now()

	// Status html template.
	statusTemplate = template.Must(template.New("status_html").Parse(statusTemplateStr))
)

// statusHandler is called when somebody makes a http request to a status port.
// If the "Accept" header is set to be "application/json", it sends json encoded
// status; otherwise it sends html.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !s.pendingSem.TryAcquire() {
		http.Error(w, "too many concurrent status requests", http.StatusServiceUnavailable)
		return
	}
	defer s.pendingSem.Release()

	if r.Header.Get("Accept") == "application/json" {
		s.handleJSON(w)
	} else {
		s.handleHTML(w)
	}
}

// Generate status data.
func (s *Server) genStatus() StatusData {
	// Pull memory info.
	mem := sigar.Mem{}
	if err := mem.Get(); nil != err {
		log.Errorf("failed to get memory info: %s", err)
		mem.ActualFree = 0
		mem.Total = 0
	}

	stats := s.co.Stats()
	pct := 0.0
	if stats.NSources > 0 {
		pct = 100 * float64(stats.NDone) / float64(stats.NSources)
	}

	// Prepare data.
	return StatusData{
		JobName:  s.cfg.JobName,
		Cfg:      s.cfg,
		FreeMem:  mem.ActualFree / mb,
		TotalMem: mem.Total / mb,
		Catalog:  stats,
		PctDone:  pct,
		Reboot:   reboot,
		Ops:      s.opStats(),
		Now:      time.Now(),
	}
}

func (s *Server) handleHTML(w http.ResponseWriter) {
	var b bytes.Buffer
	if err := statusTemplate.Execute(&b, s.genStatus()); err != nil {
		e := fmt.Sprintf("failed to encode html status data: %s", err)
		log.Errorf(e)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(e))
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Write(b.Bytes())
}

func (s *Server) handleJSON(w http.ResponseWriter) {
	var b bytes.Buffer
	if err := json.NewEncoder(&b).Encode(s.genStatus()); err != nil {
		e := fmt.Sprintf("failed to encode json status data: %s", err)
		log.Errorf(e)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(e))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(b.Bytes())
}
