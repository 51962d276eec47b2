package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v3"

	apiclient "github.com/AbhishekMashetty/axon/pkg/api/client"
)

type printer struct {
	out io.Writer
	au  aurora.Aurora
}

func newPrinter(out io.Writer, colors bool) *printer {
	return &printer{out: out, au: aurora.NewAurora(colors)}
}

func (p *printer) table() *tabby.Tabby {
	return tabby.NewCustom(newTabWriter(p.out))
}

func newTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func (p *printer) status(s string) aurora.Value {
	switch s {
	case "SUCCESS":
		return p.au.Green(s)
	case "FAILED":
		return p.au.Red(s)
	case "ROLLBACK":
		return p.au.Magenta(s)
	case "PROCESSING":
		return p.au.Yellow(s)
	default:
		return p.au.Faint(s)
	}
}

func (p *printer) summary(s apiclient.BatchSummary) {
	b := s.Batch
	head := p.table()
	head.AddLine("Batch:", b.ID)
	head.AddLine("File:", b.Filename)
	head.AddLine("Status:", p.status(b.Status))
	head.AddLine("Mode:", b.Mode)
	head.AddLine("Progress:", fmt.Sprintf("%.0f%% (%d/%d succeeded, %d failed)", s.Progress, b.Successful, b.Total, b.Failed))
	head.Print()
	fmt.Fprintln(p.out)

	t := p.table()
	t.AddHeader("SERVICE", "PILLAR", "VERSION", "STATUS", "TARGET", "DURATION", "ERROR")
	for _, d := range b.Deployments {
		t.AddLine(
			d.Request.ServiceName,
			d.Request.Pillar,
			d.Request.ArtifactVersion,
			p.status(d.Status),
			d.Target.Namespace+"/"+d.Target.Name,
			duration(d.StartedAt, d.CompletedAt),
			d.ErrorMessage,
		)
	}
	t.Print()
}

func (p *printer) batches(batches []apiclient.Batch) {
	t := p.table()
	t.AddHeader("ID", "FILE", "STATUS", "MODE", "TOTAL", "OK", "FAILED", "CREATED")
	for _, b := range batches {
		t.AddLine(b.ID, b.Filename, p.status(b.Status), b.Mode,
			strconv.Itoa(b.Total), strconv.Itoa(b.Successful), strconv.Itoa(b.Failed),
			b.CreatedAt.Local().Format(time.RFC3339))
	}
	t.Print()
}

func (p *printer) connectivity(report apiclient.ConnectivityReport) {
	t := p.table()
	t.AddHeader("PILLAR", "REACHABLE", "STATUS", "DETAIL")
	for _, e := range report.Pillars {
		reachable := p.au.Red("no")
		if e.Reachable {
			reachable = p.au.Green("yes")
		}
		code := "-"
		if e.StatusCode > 0 {
			code = strconv.Itoa(e.StatusCode)
		}
		t.AddLine(e.Pillar, reachable, code, e.Error)
	}
	t.Print()
	fmt.Fprintf(p.out, "\n%d/%d pillars reachable\n", report.Reachable, report.Total)
}

func (p *printer) issues(issues []apiclient.Issue) {
	t := p.table()
	t.AddHeader("PATH", "PROBLEM")
	for _, i := range issues {
		path := i.Path
		if path == "" {
			path = "/"
		}
		t.AddLine(path, p.au.Red(i.Message))
	}
	t.Print()
}

func duration(start, end *time.Time) string {
	if start == nil {
		return "-"
	}
	stop := time.Now()
	if end != nil {
		stop = *end
	}
	return stop.Sub(*start).Round(time.Second).String()
}
